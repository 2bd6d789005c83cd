// Package calculator exposes the quotation calculator over HTTP.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sebastianruiz9504/calculadora/internal/common"
	"github.com/sebastianruiz9504/calculadora/internal/crm"
	"github.com/sebastianruiz9504/calculadora/internal/obs"
	"github.com/sebastianruiz9504/calculadora/internal/provisioning"
	"github.com/sebastianruiz9504/calculadora/internal/quote"
	"github.com/sebastianruiz9504/calculadora/internal/report"
	"github.com/sebastianruiz9504/calculadora/internal/scenario"
)

const defaultSearchTop = 12

// Directory resolves callers, products and customer accounts.
type Directory interface {
	Segment(ctx context.Context, objectID string) (quote.Segment, error)
	CurrentUser(ctx context.Context, objectID string) (*crm.User, error)
	SearchProducts(ctx context.Context, q string, top int) ([]crm.Product, error)
	SearchClients(ctx context.Context, q string, top int) ([]crm.Account, error)
}

// Scenarios stores the caller's saved scenarios.
type Scenarios interface {
	Save(ctx context.Context, owner string, req scenario.SaveRequest) (scenario.Scenario, error)
	List(ctx context.Context, owner string) ([]scenario.Scenario, error)
	Get(ctx context.Context, owner, id string) (scenario.Scenario, error)
	Delete(ctx context.Context, owner, id string) error
}

// Provisioner validates and queues provisioning requests.
type Provisioner interface {
	Validate(req provisioning.Request) error
	Submit(ctx context.Context, req provisioning.Request) (provisioning.Submission, error)
}

// Handler serves the calculator API.
type Handler struct {
	Engine       *quote.Engine
	Directory    Directory
	Scenarios    Scenarios
	Provisioning Provisioner
	MaxBodyBytes int64

	// SearchLimit wraps the lookup endpoints; Idempotency wraps provisioning submits.
	SearchLimit func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler
}

// Routes registers every calculator endpoint on r. Authentication is applied by the caller.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Group(func(r chi.Router) {
		if h.SearchLimit != nil {
			r.Use(h.SearchLimit)
		}
		r.Get("/products", h.SearchProducts)
		r.Get("/clients", h.SearchClients)
	})
	r.Post("/quotes/calculate", h.Calculate)
	r.Post("/quotes/export", h.Export)

	r.Post("/provisioning/validate", h.ValidateProvisioning)
	r.Group(func(r chi.Router) {
		if h.Idempotency != nil {
			r.Use(h.Idempotency)
		}
		r.Post("/provisioning", h.SubmitProvisioning)
	})

	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.ListScenarios)
		r.Post("/", h.SaveScenario)
		r.Get("/{id}", h.GetScenario)
		r.Delete("/{id}", h.DeleteScenario)
	})
}

// Me returns the caller profile, segment and the business categories offered by the form.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok || id.ObjectID == "" {
		writeUnauthorized(w)
		return
	}
	resp := MeResponse{
		ObjectID:      id.ObjectID,
		DisplayName:   id.Name,
		Email:         id.Email,
		Segment:       quote.SegmentUnknown.String(),
		BusinessTypes: quote.BusinessTypeOptions(),
	}
	user, err := h.Directory.CurrentUser(r.Context(), id.ObjectID)
	if err != nil {
		h.writeError(w, r, common.Upstream("directory lookup failed", err))
		return
	}
	if user != nil {
		resp.SystemUserID = user.SystemUserID
		resp.DisplayName = firstNonEmpty(user.DisplayName, id.Name)
		resp.Email = firstNonEmpty(user.Email, id.Email)
		resp.Segment = user.Segment.String()
	}
	common.JSON(w, http.StatusOK, resp)
}

// SearchProducts looks up priced catalog entries by description.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.Directory.SearchProducts(r.Context(), r.URL.Query().Get("q"), common.QueryInt(r, "top", defaultSearchTop))
	if err != nil {
		h.writeError(w, r, common.Upstream("product lookup failed", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// SearchClients looks up customer accounts by name.
func (h *Handler) SearchClients(w http.ResponseWriter, r *http.Request) {
	items, err := h.Directory.SearchClients(r.Context(), r.URL.Query().Get("q"), common.QueryInt(r, "top", defaultSearchTop))
	if err != nil {
		h.writeError(w, r, common.Upstream("client lookup failed", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// Calculate prices a scenario for the caller's segment.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var in ScenarioInput
	if err := common.DecodeJSON(w, r, h.MaxBodyBytes, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	segment, err := h.segment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s := in.toScenario()
	if err := h.Engine.ValidateLicenseCaps(s, segment); err != nil {
		obs.ObserveCapRejection(segment.String())
		h.writeError(w, r, capError(err))
		return
	}
	result := h.Engine.Calculate(s, segment)
	obs.ObserveQuote(segment.String(), s.DealType.String())
	common.JSON(w, http.StatusOK, newCalculationResponse(s, segment, result))
}

// Export renders the scenario as an xlsx download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var in ScenarioInput
	if err := common.DecodeJSON(w, r, h.MaxBodyBytes, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(in.Lines) == 0 {
		h.writeError(w, r, common.BadRequest("NO_LINES", errors.New("no lines to export")))
		return
	}
	segment, err := h.segment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s := in.toScenario()
	if err := h.Engine.ValidateLicenseCaps(s, segment); err != nil {
		obs.ObserveCapRejection(segment.String())
		obs.ObserveExport(segment.String(), "rejected")
		h.writeError(w, r, capError(err))
		return
	}

	data, err := report.Render(report.BuildTable(h.Engine, s, segment))
	if err != nil {
		obs.ObserveExport(segment.String(), "failed")
		h.writeError(w, r, fmt.Errorf("render export: %w", err))
		return
	}
	obs.ObserveExport(segment.String(), "ok")

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(report.FileName(s.Name)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ValidateProvisioning runs the provisioning gate without submitting.
func (h *Handler) ValidateProvisioning(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if err := common.DecodeJSON(w, r, h.MaxBodyBytes, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Provisioning.Validate(req); err != nil {
		h.writeError(w, r, provisioningError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SubmitProvisioning validates, stores and queues a provisioning request.
func (h *Handler) SubmitProvisioning(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if err := common.DecodeJSON(w, r, h.MaxBodyBytes, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if id, ok := common.IdentityFrom(r.Context()); ok {
		req.Requester.DisplayName = firstNonEmpty(req.Requester.DisplayName, id.Name)
		req.Requester.Email = firstNonEmpty(req.Requester.Email, id.Email)
	}
	sub, err := h.Provisioning.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, provisioningError(err))
		return
	}
	common.JSON(w, http.StatusAccepted, sub)
}

// ListScenarios returns the caller's saved scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	items, err := h.Scenarios.List(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// SaveScenario creates or replaces a saved scenario.
func (h *Handler) SaveScenario(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	var in SaveScenarioInput
	if err := common.DecodeJSON(w, r, h.MaxBodyBytes, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sc, err := h.Scenarios.Save(r.Context(), owner, in.toSaveRequest())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, sc)
}

// GetScenario loads one saved scenario.
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	sc, err := h.Scenarios.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, sc)
}

// DeleteScenario removes one saved scenario.
func (h *Handler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if err := h.Scenarios.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// segment resolves the caller's commercial segment before any pricing runs.
func (h *Handler) segment(r *http.Request) (quote.Segment, error) {
	owner, ok := common.UserID(r.Context())
	if !ok {
		return quote.SegmentUnknown, nil
	}
	segment, err := h.Directory.Segment(r.Context(), owner)
	if err != nil {
		return quote.SegmentUnknown, common.Upstream("segment lookup failed", err)
	}
	return segment, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	common.WriteError(w, err)
}

func capError(err error) error {
	var capErr *quote.LicenseCapError
	if errors.As(err, &capErr) {
		return common.BadRequest("LICENSE_CAP_EXCEEDED", err)
	}
	return err
}

func provisioningError(err error) error {
	var vErr *provisioning.ValidationError
	if errors.As(err, &vErr) {
		return common.BadRequest("PROVISIONING_INVALID", err)
	}
	if common.IsAppError(err) {
		return err
	}
	return common.Upstream("provisioning submission failed", err)
}

func writeUnauthorized(w http.ResponseWriter) {
	common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
}

func contentDisposition(name string) string {
	return fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(name, `"`, "_"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
