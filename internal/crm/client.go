package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sebastianruiz9504/calculadora/internal/obs"
	"github.com/sebastianruiz9504/calculadora/internal/quote"
	"github.com/sebastianruiz9504/calculadora/internal/resilience"
)

const (
	apiPath        = "/api/data/v9.2/"
	defaultTop     = 12
	maxTop         = 50
	minQueryLength = 2
	maxBodyBytes   = 4 << 20
)

// TokenSource supplies bearer tokens for the CRM API. Acquiring them (on-behalf-of
// flows, client credentials) happens outside this package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Config wires a Client.
type Config struct {
	BaseURL  string
	Tokens   TokenSource
	HTTP     resilience.Client
	Segments *Cache
	Searches *Cache
	Logger   zerolog.Logger
}

// Client reads users, products and accounts from a Dataverse-style OData API.
type Client struct {
	baseURL  string
	tokens   TokenSource
	http     resilience.Client
	segments *Cache
	searches *Cache
	logger   zerolog.Logger
}

// New validates cfg and returns a Client. Outbound requests are traced with otelhttp.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("crm: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("crm: base url: %w", err)
	}
	hc := cfg.HTTP
	if hc.HTTP == nil {
		hc.HTTP = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if hc.Breaker == nil {
		hc.Breaker = resilience.NewBreaker(10, 0.5, 30*time.Second).Named("crm").WithLogger(cfg.Logger)
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:  base,
		tokens:   tokens,
		http:     hc,
		segments: cfg.Segments,
		searches: cfg.Searches,
		logger:   cfg.Logger,
	}, nil
}

// Segment resolves the commercial segment of the user with the given directory
// object id. Missing users and empty or unmapped values resolve to Unknown; only
// transport and protocol failures are returned as errors.
func (c *Client) Segment(ctx context.Context, objectID string) (quote.Segment, error) {
	oid, ok := normalizeObjectID(objectID)
	if !ok {
		return quote.SegmentUnknown, nil
	}
	var cached quote.Segment
	if c.cacheGet(ctx, c.segments, "segment:"+oid, &cached) {
		return cached, nil
	}

	query := "$select=cr07a_segmentocomercial" +
		"&$filter=" + escapeODataValue("azureactivedirectoryobjectid eq "+oid) +
		"&$top=1"
	var page odataList[userRow]
	if err := c.get(ctx, "segment", "systemusers", query, &page); err != nil {
		return quote.SegmentUnknown, err
	}
	segment := quote.SegmentUnknown
	if len(page.Value) > 0 {
		segment = parseSegment(page.Value[0].Segment)
	}
	c.cacheSet(ctx, c.segments, "segment:"+oid, segment)
	return segment, nil
}

// CurrentUser returns the CRM system user for the object id, or nil when no
// such user exists.
func (c *Client) CurrentUser(ctx context.Context, objectID string) (*User, error) {
	oid, ok := normalizeObjectID(objectID)
	if !ok {
		return nil, nil
	}
	var cached User
	if c.cacheGet(ctx, c.segments, "user:"+oid, &cached) {
		return &cached, nil
	}

	query := "$select=systemuserid,fullname,internalemailaddress,cr07a_segmentocomercial" +
		"&$filter=" + escapeODataValue("azureactivedirectoryobjectid eq "+oid) +
		"&$top=1"
	var page odataList[userRow]
	if err := c.get(ctx, "current_user", "systemusers", query, &page); err != nil {
		return nil, err
	}
	if len(page.Value) == 0 {
		return nil, nil
	}
	row := page.Value[0]
	user := &User{
		SystemUserID: row.SystemUserID,
		DisplayName:  row.FullName,
		Email:        row.Email,
		Segment:      parseSegment(row.Segment),
	}
	c.cacheSet(ctx, c.segments, "user:"+oid, user)
	return user, nil
}

// SearchProducts returns up to top catalog entries whose description contains q.
// Queries shorter than two characters return an empty list without a remote call.
func (c *Client) SearchProducts(ctx context.Context, q string, top int) ([]Product, error) {
	q, top, ok := normalizeSearch(q, top)
	if !ok {
		return []Product{}, nil
	}
	key := "products:" + strconv.Itoa(top) + ":" + strings.ToLower(q)
	var cached []Product
	if c.cacheGet(ctx, c.searches, key, &cached) {
		return cached, nil
	}

	query := "$select=cr07a_priceableitemdescription,cr07a_purchaseprice,cr07a_suggestedretailprice,cr07a_acelerador,cr07a_precioscloudid" +
		"&$filter=" + escapeODataValue("contains(cr07a_priceableitemdescription,'"+quoteLiteral(q)+"')") +
		"&$top=" + strconv.Itoa(top)
	var page odataList[productRow]
	if err := c.get(ctx, "search_products", "cr07a_preciosclouds", query, &page); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(page.Value))
	for _, row := range page.Value {
		out = append(out, Product{
			ID:                   row.ID,
			Description:          row.Description,
			PurchasePrice:        row.PurchasePrice.Value,
			SuggestedRetailPrice: row.SuggestedRetailPrice.Value,
			Accelerator:          row.Accelerator.Value,
		})
	}
	c.cacheSet(ctx, c.searches, key, out)
	return out, nil
}

// SearchClients returns up to top customer accounts whose name contains q.
func (c *Client) SearchClients(ctx context.Context, q string, top int) ([]Account, error) {
	q, top, ok := normalizeSearch(q, top)
	if !ok {
		return []Account{}, nil
	}
	key := "clients:" + strconv.Itoa(top) + ":" + strings.ToLower(q)
	var cached []Account
	if c.cacheGet(ctx, c.searches, key, &cached) {
		return cached, nil
	}

	query := "$select=accountid,name,accountnumber" +
		"&$filter=" + escapeODataValue("contains(name,'"+quoteLiteral(q)+"')") +
		"&$top=" + strconv.Itoa(top)
	var page odataList[accountRow]
	if err := c.get(ctx, "search_clients", "accounts", query, &page); err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(page.Value))
	for _, row := range page.Value {
		out = append(out, Account{ID: row.ID, Name: row.Name, AccountNumber: row.AccountNumber})
	}
	c.cacheSet(ctx, c.searches, key, out)
	return out, nil
}

func (c *Client) get(ctx context.Context, op, entity, query string, dst any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		obs.ObserveCRM(op, result, obs.DurationMillis(time.Since(start)))
	}()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("crm: acquire token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath+entity+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("crm: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("crm: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("crm: %s: status %d %s", op, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("crm: %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) cacheGet(ctx context.Context, cache *Cache, key string, dst any) bool {
	hit, err := cache.GetJSON(ctx, key, dst)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("crm cache read failed")
		return false
	}
	return hit
}

func (c *Client) cacheSet(ctx context.Context, cache *Cache, key string, v any) {
	if err := cache.SetJSON(ctx, key, v); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("crm cache write failed")
	}
}

func normalizeObjectID(raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func normalizeSearch(q string, top int) (string, int, bool) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < minQueryLength {
		return "", 0, false
	}
	if top <= 0 {
		top = defaultTop
	}
	if top > maxTop {
		top = maxTop
	}
	return q, top, true
}

// quoteLiteral escapes an OData string literal.
func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// escapeODataValue percent-encodes a query value with %20 for spaces.
func escapeODataValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
