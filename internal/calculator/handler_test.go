package calculator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sebastianruiz9504/calculadora/internal/common"
	"github.com/sebastianruiz9504/calculadora/internal/crm"
	"github.com/sebastianruiz9504/calculadora/internal/provisioning"
	"github.com/sebastianruiz9504/calculadora/internal/quote"
	"github.com/sebastianruiz9504/calculadora/internal/report"
	"github.com/sebastianruiz9504/calculadora/internal/scenario"
)

const callerID = "6b0f1c2e-3d4a-4b5c-8d9e-0f1a2b3c4d5e"

type fakeDirectory struct {
	segment    quote.Segment
	segmentErr error
	user       *crm.User
	products   []crm.Product
	queries    []string
	segmentFor []string
}

func (d *fakeDirectory) Segment(_ context.Context, oid string) (quote.Segment, error) {
	d.segmentFor = append(d.segmentFor, oid)
	return d.segment, d.segmentErr
}

func (d *fakeDirectory) CurrentUser(context.Context, string) (*crm.User, error) {
	return d.user, d.segmentErr
}

func (d *fakeDirectory) SearchProducts(_ context.Context, q string, top int) ([]crm.Product, error) {
	d.queries = append(d.queries, q)
	if len(d.products) > top {
		return d.products[:top], nil
	}
	return d.products, nil
}

func (d *fakeDirectory) SearchClients(context.Context, string, int) ([]crm.Account, error) {
	return []crm.Account{{ID: "acc-1", Name: "Contoso", AccountNumber: "C-001"}}, nil
}

type memoryScenarios struct {
	mu   sync.Mutex
	rows map[uuid.UUID]scenario.Record
	seq  int
}

func (m *memoryScenarios) toScenario(rec scenario.Record) scenario.Scenario {
	return scenario.Scenario{
		ID: rec.ID.String(), Name: rec.Name, DealType: rec.DealType, RequiresProration: rec.RequiresProration,
		StartDate: rec.StartDate, EndDate: rec.EndDate, Lines: rec.Lines, LastResult: rec.LastResult,
		UpdatedAt: time.Unix(int64(m.seq), 0).UTC(),
	}
}

func (m *memoryScenarios) Upsert(_ context.Context, rec scenario.Record) (scenario.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[rec.ID]; ok && existing.Owner != rec.Owner {
		return scenario.Scenario{}, scenario.ErrNotFound
	}
	m.seq++
	m.rows[rec.ID] = rec
	return m.toScenario(rec), nil
}

func (m *memoryScenarios) List(_ context.Context, owner string, _ int) ([]scenario.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []scenario.Scenario{}
	for _, rec := range m.rows {
		if rec.Owner == owner {
			out = append(out, m.toScenario(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryScenarios) Get(_ context.Context, owner string, id uuid.UUID) (scenario.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Owner != owner {
		return scenario.Scenario{}, scenario.ErrNotFound
	}
	return m.toScenario(rec), nil
}

func (m *memoryScenarios) Delete(_ context.Context, owner string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Owner != owner {
		return scenario.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

type recordingQueue struct {
	payloads []provisioning.DeliverPayload
}

func (q *recordingQueue) EnqueueDelivery(_ context.Context, p provisioning.DeliverPayload) error {
	q.payloads = append(q.payloads, p)
	return nil
}

type fixture struct {
	dir    *fakeDirectory
	queue  *recordingQueue
	router http.Handler
}

func newFixture(segment quote.Segment) *fixture {
	f := &fixture{
		dir:   &fakeDirectory{segment: segment},
		queue: &recordingQueue{},
	}
	h := &Handler{
		Engine:       quote.NewEngine(quote.DefaultPolicy()),
		Directory:    f.dir,
		Scenarios:    scenario.NewService(&memoryScenarios{rows: map[uuid.UUID]scenario.Record{}}),
		Provisioning: &provisioning.Service{Queue: f.queue},
		MaxBodyBytes: 1 << 20,
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if owner := req.Header.Get("X-Test-Owner"); owner != "" {
				req = req.WithContext(common.WithIdentity(req.Context(), common.Identity{ObjectID: owner, Name: "Ana Seller", Email: "ana@example.com"}))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/v1", h.Routes)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return f.doAs(t, callerID, method, path, body)
}

func (f *fixture) doAs(t *testing.T, owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Test-Owner", owner)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorEnvelope struct {
	Error common.ErrorBody `json:"error"`
}

func restrictedPayload(deal string, quantity int) string {
	return `{
		"scenarioName": "Acme",
		"dealType": ` + deal + `,
		"lines": [
			{"businessType": "ModernWork", "productDescription": "Microsoft 365 Business Premium",
			 "costUnit": 100, "marginPercent": 0, "contractMonths": 12, "quantity": ` + itoa(quantity) + `},
			{"businessType": 1, "productDescription": "Azure plan",
			 "costUnit": "10", "marginPercent": "10", "contractMonths": 1, "quantity": 3, "suggestedRetailPrice": 12}
		]
	}`
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCalculateReturnsVisibleFigures(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	rec := f.do(t, http.MethodPost, "/api/v1/quotes/calculate", restrictedPayload("1", 10))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[map[string]any](t, rec)
	require.Equal(t, "SMB", resp["segment"])
	require.Equal(t, 1033.0, resp["totalMonthlySale"])
	require.Equal(t, 12033.0, resp["totalSale"])
	require.Contains(t, resp, "points")
	require.Contains(t, resp, "commission")
	require.NotContains(t, resp, "utilityRaw")
	require.NotContains(t, resp, "utilityAdjusted")
	require.Equal(t, []string{callerID}, f.dir.segmentFor)

	engine := quote.NewEngine(quote.DefaultPolicy())
	var in ScenarioInput
	require.NoError(t, json.Unmarshal([]byte(restrictedPayload("1", 10)), &in))
	want := engine.Calculate(in.toScenario(), quote.SegmentSMB)
	require.InDelta(t, want.Points.InexactFloat64(), resp["points"], 1e-9)
	require.InDelta(t, want.Commission.InexactFloat64(), resp["commission"], 1e-9)

	exact := decodeBody[CalculationResponse](t, rec)
	require.Equal(t, json.Number(want.Points.StringFixed(2)), exact.Points)
	require.Equal(t, json.Number(want.Commission.StringFixed(2)), exact.Commission)
	require.Contains(t, rec.Body.String(), `"totalMonthlySale":1033.00`)
	require.Contains(t, rec.Body.String(), `"totalSale":12033.00`)
}

func TestCalculateProration(t *testing.T) {
	f := newFixture(quote.SegmentCorporate)
	body := `{"dealType":"CrossSale","requiresProration":true,"startDate":"2025-01-01","endDate":"2025-03-01T00:00:00Z",
		"lines":[{"businessType":"Azure","costUnit":10,"marginPercent":20,"contractMonths":12,"quantity":1}]}`
	rec := f.do(t, http.MethodPost, "/api/v1/quotes/calculate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[CalculationResponse](t, rec)
	require.Equal(t, 60, resp.ProrationDays)
	factor, err := decimal.NewFromString(resp.ProrationFactor.String())
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(60).Div(decimal.NewFromInt(365)).Equal(factor))
	require.Equal(t, "60 days (2025-01-01 to 2025-03-01)", resp.ProrationText)
}

func TestCalculateLicenseCap(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	rec := f.do(t, http.MethodPost, "/api/v1/quotes/calculate", restrictedPayload("0", 300))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeBody[errorEnvelope](t, rec)
	require.Equal(t, "LICENSE_CAP_EXCEEDED", env.Error.Code)
	require.Contains(t, env.Error.Message, "Current total: 300")

	rec = f.do(t, http.MethodPost, "/api/v1/quotes/calculate", restrictedPayload("1", 300))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCalculateSegmentLookupFailure(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	f.dir.segmentErr = errors.New("crm: status 503")
	rec := f.do(t, http.MethodPost, "/api/v1/quotes/calculate", restrictedPayload("1", 1))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotContains(t, rec.Body.String(), "503")
}

func TestCalculateRejectsBadPayloads(t *testing.T) {
	f := newFixture(quote.SegmentSMB)

	rec := f.do(t, http.MethodPost, "/api/v1/quotes/calculate", `{"dealType": 9, "lines": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeBody[errorEnvelope](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/quotes/calculate", `{"startDate": "01/02/2025", "lines": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_JSON", decodeBody[errorEnvelope](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/quotes/calculate", `{"lines":[{"businessType":"Printers"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportWorkbook(t *testing.T) {
	f := newFixture(quote.SegmentCorporate)
	rec := f.do(t, http.MethodPost, "/api/v1/quotes/export", restrictedPayload("1", 10))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="Acme.xlsx"`, rec.Header().Get("Content-Disposition"))

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })
	header, err := wb.GetCellValue(report.SheetName, "L5")
	require.NoError(t, err)
	require.Equal(t, report.ColAnnualSavings, header)
}

func TestExportRejections(t *testing.T) {
	f := newFixture(quote.SegmentCorporate)

	rec := f.do(t, http.MethodPost, "/api/v1/quotes/export", `{"scenarioName":"x","lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "no lines to export", decodeBody[errorEnvelope](t, rec).Error.Message)

	rec = f.do(t, http.MethodPost, "/api/v1/quotes/export", restrictedPayload("2", 100))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "LICENSE_CAP_EXCEEDED", decodeBody[errorEnvelope](t, rec).Error.Code)
}

func TestAnonymousCallerIsUnknownSegment(t *testing.T) {
	f := newFixture(quote.SegmentCorporate)
	rec := f.doAs(t, "", http.MethodPost, "/api/v1/quotes/calculate", restrictedPayload("0", 5000))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Unknown", decodeBody[CalculationResponse](t, rec).Segment)
	require.Empty(t, f.dir.segmentFor)
}

func TestMe(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	f.dir.user = &crm.User{SystemUserID: "su-1", DisplayName: "Ana CRM", Segment: quote.SegmentCorporate}

	rec := f.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[MeResponse](t, rec)
	require.Equal(t, callerID, me.ObjectID)
	require.Equal(t, "su-1", me.SystemUserID)
	require.Equal(t, "Ana CRM", me.DisplayName)
	require.Equal(t, "ana@example.com", me.Email)
	require.Equal(t, "Corporate", me.Segment)
	require.Len(t, me.BusinessTypes, 6)
	require.Equal(t, "ModernWork", me.BusinessTypes[0].Name)

	f.dir.user = nil
	me = decodeBody[MeResponse](t, f.do(t, http.MethodGet, "/api/v1/me", nil))
	require.Equal(t, "Unknown", me.Segment)
	require.Equal(t, "Ana Seller", me.DisplayName)

	rec = f.doAs(t, "", http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLookups(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	f.dir.products = []crm.Product{{ID: "p1", Description: "Microsoft 365 E3"}, {ID: "p2", Description: "Microsoft 365 E5"}}

	rec := f.do(t, http.MethodGet, "/api/v1/products?q=micro&top=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody[struct {
		Items []crm.Product `json:"items"`
	}](t, rec)
	require.Len(t, products.Items, 1)
	require.Equal(t, []string{"micro"}, f.dir.queries)

	rec = f.do(t, http.MethodGet, "/api/v1/clients?q=con", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Contoso")
}

func provisioningBody(base64Content string) map[string]any {
	return map[string]any{
		"source":     "calculator",
		"businessId": "opp-1",
		"client":     map[string]any{"id": "acc-1", "name": "Contoso"},
		"outcome":    map[string]any{"points": 4.5, "commission": 1000},
		"lineItems":  []map[string]any{{"lineId": "1", "productId": "p1", "productName": "Microsoft 365 E3", "quantity": 10, "number": 1}},
		"attachment": map[string]any{"fileName": "offer.pdf", "contentType": "application/pdf", "base64": base64Content},
	}
}

func TestProvisioningValidate(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	good := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))

	rec := f.do(t, http.MethodPost, "/api/v1/provisioning/validate", provisioningBody(good))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/provisioning/validate", provisioningBody("%%%"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeBody[errorEnvelope](t, rec)
	require.Equal(t, "PROVISIONING_INVALID", env.Error.Code)
	require.Equal(t, "attachment is not valid", env.Error.Message)
	require.Empty(t, f.queue.payloads)
}

func TestProvisioningSubmit(t *testing.T) {
	f := newFixture(quote.SegmentSMB)
	good := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))

	rec := f.do(t, http.MethodPost, "/api/v1/provisioning", provisioningBody(good))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decodeBody[provisioning.Submission](t, rec)
	require.NotEmpty(t, sub.RequestID)

	require.Len(t, f.queue.payloads, 1)
	queued := f.queue.payloads[0]
	require.Equal(t, sub.RequestID, queued.RequestID)
	require.Equal(t, "Ana Seller", queued.Request.Requester.DisplayName)
	require.Equal(t, "ana@example.com", queued.Request.Requester.Email)

	body := provisioningBody(good)
	body["lineItems"] = []any{}
	rec = f.do(t, http.MethodPost, "/api/v1/provisioning", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "no line items to submit", decodeBody[errorEnvelope](t, rec).Error.Message)
}

func TestScenarioLifecycle(t *testing.T) {
	f := newFixture(quote.SegmentSMB)

	rec := f.do(t, http.MethodPost, "/api/v1/scenarios", `{"dealType":2,"lines":[{"businessType":"Acronis","costUnit":5,"quantity":3,"contractMonths":12}],
		"lastResult":{"points":1.2,"commission":500,"segment":"SMB","prorationText":"","totalMonthlySale":15,"totalSale":180}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decodeBody[scenario.Scenario](t, rec)
	require.Equal(t, scenario.DefaultName, saved.Name)
	require.Equal(t, quote.DealRenewal1, saved.DealType)
	require.Equal(t, quote.BusinessAcronis, saved.Lines[0].BusinessType)
	require.Equal(t, "SMB", saved.LastResult.Segment)

	rec = f.do(t, http.MethodPost, "/api/v1/scenarios", `{"scenarioId":"`+saved.ID+`","scenarioName":"Renamed","lines":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Renamed", decodeBody[scenario.Scenario](t, rec).Name)

	list := decodeBody[struct {
		Items []scenario.Scenario `json:"items"`
	}](t, f.do(t, http.MethodGet, "/api/v1/scenarios", nil))
	require.Len(t, list.Items, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/scenarios/"+saved.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.doAs(t, "someone-else", http.MethodGet, "/api/v1/scenarios/"+saved.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.doAs(t, "someone-else", http.MethodPost, "/api/v1/scenarios", `{"scenarioId":"`+saved.ID+`","lines":[]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/scenarios", `{"scenarioId":"nope","lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/scenarios/"+saved.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/scenarios/"+saved.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.doAs(t, "", http.MethodGet, "/api/v1/scenarios", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDateParsing(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-02-03"`), &d))
	require.True(t, d.Valid)
	require.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), d.Time)

	var empty struct {
		Start Date `json:"startDate"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"startDate":null}`), &empty))
	require.False(t, empty.Start.Valid)
	require.Nil(t, empty.Start.Ptr())
	require.NoError(t, json.Unmarshal([]byte(`{"startDate":""}`), &empty))
	require.False(t, empty.Start.Valid)

	require.NoError(t, json.Unmarshal([]byte(`"2025-02-03T10:00:00-05:00"`), &d))
	require.True(t, d.Valid)

	require.Error(t, json.Unmarshal([]byte(`"tomorrow"`), &d))
	require.True(t, strings.HasPrefix(contentDisposition(`a"b.xlsx`), `attachment; filename="a_b.xlsx"`))
}
