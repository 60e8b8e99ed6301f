// Package gateway implements the credit-metered B2B API: API-key
// authentication, endpoint gating, credit accounting, and usage auditing for
// external data consumers.
package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/metrics"
	"github.com/estatelink/marketplace/internal/app/services/clients"
	"github.com/estatelink/marketplace/internal/app/services/insights"
	"github.com/estatelink/marketplace/internal/app/services/leads"
	"github.com/estatelink/marketplace/internal/app/services/valuations"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/pkg/logger"
)

const (
	apiKeyHeader     = "x-api-key"
	defaultLeadLimit = 10
	maxLeadLimit     = 50
	maxBodyBytes     = 1 << 20
)

// Handler is the B2B gateway. Each request is handled statelessly: all
// durable state lives in the stores.
type Handler struct {
	clientStore storage.ClientStore
	keyStore    storage.APIKeyStore
	leads       *leads.Service
	insights    *insights.Service
	valuations  *valuations.Service
	recorder    *Recorder
	limiters    *clientLimiters
	log         *logger.Logger
	endpoints   map[string]Endpoint
	now         func() time.Time
}

// New constructs the gateway handler with its full endpoint table.
func New(
	clientStore storage.ClientStore,
	keyStore storage.APIKeyStore,
	leadSvc *leads.Service,
	insightSvc *insights.Service,
	valuationSvc *valuations.Service,
	recorder *Recorder,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewDefault("gateway")
	}
	h := &Handler{
		clientStore: clientStore,
		keyStore:    keyStore,
		leads:       leadSvc,
		insights:    insightSvc,
		valuations:  valuationSvc,
		recorder:    recorder,
		limiters:    newClientLimiters(),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	h.endpoints = map[string]Endpoint{
		"info":          {Name: "info", Handle: h.handleInfo},
		"leads":         {Name: "leads", Handle: h.handleLeads},
		"insights":      {Name: "insights", Cost: CostInsights, Handle: h.handleInsights},
		"demographics":  {Name: "demographics", Cost: CostDemographics, Handle: h.handleDemographics},
		"valuations":    {Name: "valuations", Cost: CostValuations, Handle: h.handleValuations},
		"purchase-lead": {Name: "purchase-lead", Method: http.MethodPost, Dynamic: true, Handle: h.handlePurchaseLead},
	}
	return h
}

// ServeHTTP runs the full request cycle: authenticate, gate, meter, dispatch,
// audit.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	started := h.now()
	endpointName := h.endpointFromPath(r.URL.Path)

	defer func() {
		if rec := recover(); rec != nil {
			h.log.WithField("panic", fmt.Sprintf("%v", rec)).Error("gateway handler panicked")
			h.writeError(w, endpointName, apiErr(http.StatusInternalServerError, CodeInternalError, "internal error"))
		}
	}()

	// --- Authentication chain; each failure is terminal. ---

	rawKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if rawKey == "" {
		h.writeError(w, endpointName, apiErr(http.StatusUnauthorized, CodeMissingAPIKey, "x-api-key header is required"))
		return
	}
	if len(rawKey) < apikey.PrefixLength {
		h.writeError(w, endpointName, apiErr(http.StatusUnauthorized, CodeInvalidAPIKey, "invalid API key"))
		return
	}

	key, err := h.keyStore.GetActiveKeyByPrefix(r.Context(), rawKey[:apikey.PrefixLength])
	if err != nil || !validateKeyMaterial(rawKey, key.Hash) {
		h.writeError(w, endpointName, apiErr(http.StatusUnauthorized, CodeInvalidAPIKey, "invalid API key"))
		return
	}
	if key.Expired(h.now()) {
		h.writeError(w, endpointName, apiErr(http.StatusUnauthorized, CodeExpiredAPIKey, "API key has expired"))
		return
	}

	cl, err := h.clientStore.GetClient(r.Context(), key.ClientID)
	if err != nil || !cl.Active {
		h.writeError(w, endpointName, apiErr(http.StatusForbidden, CodeInactiveAccount, "client account is inactive"))
		return
	}

	if endpointName != "info" && !key.Allows(endpointName) {
		h.audit(r, key.ID, cl.ID, endpointName, http.StatusForbidden, 0, started)
		h.writeError(w, endpointName, apiErr(http.StatusForbidden, CodeEndpointNotAllowed, "API key is not entitled to this endpoint"))
		return
	}

	ep, ok := h.endpoints[endpointName]
	if !ok {
		h.audit(r, key.ID, cl.ID, endpointName, http.StatusNotFound, 0, started)
		h.writeError(w, endpointName, apiErr(http.StatusNotFound, CodeUnknownEndpoint, "unknown endpoint"))
		return
	}

	if ep.Method != "" && r.Method != ep.Method {
		h.audit(r, key.ID, cl.ID, endpointName, http.StatusMethodNotAllowed, 0, started)
		h.writeError(w, endpointName, apiErr(http.StatusMethodNotAllowed, CodeMethodNotAllowed, ep.Method+" required"))
		return
	}

	if !h.limiters.allow(cl.ID, cl.RateLimitPerSecond) {
		h.audit(r, key.ID, cl.ID, endpointName, http.StatusTooManyRequests, 0, started)
		h.writeError(w, endpointName, apiErr(http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded"))
		return
	}

	call := &Call{Key: key, Client: cl, Request: r, Query: r.URL.Query()}
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			h.audit(r, key.ID, cl.ID, endpointName, http.StatusBadRequest, 0, started)
			h.writeError(w, endpointName, apiErr(http.StatusBadRequest, CodeMissingParam, "unreadable request body"))
			return
		}
		call.Body = body
	}

	// Advisory balance check before the endpoint body runs; the actual
	// charge below re-validates atomically.
	if !ep.Dynamic && ep.Cost > 0 && cl.CreditsBalance < ep.Cost {
		h.audit(r, key.ID, cl.ID, endpointName, http.StatusPaymentRequired, 0, started)
		h.writeError(w, endpointName, insufficientCredits(ep.Cost))
		return
	}

	data, creditsUsed, apiError := ep.Handle(r.Context(), call)
	if apiError == nil && !ep.Dynamic && ep.Cost > 0 {
		if _, _, err := h.clientStore.DebitCredits(r.Context(), cl.ID, ep.Cost, "endpoint_call", endpointName); err != nil {
			if errors.Is(err, storage.ErrInsufficientCredits) {
				// Lost a race against a concurrent spend; the read endpoint
				// mutated nothing, so reporting 402 is safe.
				apiError = insufficientCredits(ep.Cost)
			} else {
				h.log.WithError(err).Error("credit debit failed")
				apiError = apiErr(http.StatusInternalServerError, CodeInternalError, "internal error")
			}
		} else {
			creditsUsed = ep.Cost
		}
	}

	if apiError != nil {
		h.audit(r, key.ID, cl.ID, endpointName, apiError.Status, 0, started)
		h.writeError(w, endpointName, apiError)
		return
	}

	h.audit(r, key.ID, cl.ID, endpointName, http.StatusOK, creditsUsed, started)
	h.writeSuccess(w, endpointName, creditsUsed, started, data)
}

// endpointFromPath resolves the endpoint from the trailing path segment; a
// missing segment defaults to info.
func (h *Handler) endpointFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "info"
	}
	parts := strings.Split(trimmed, "/")
	last := parts[len(parts)-1]
	// Mounted under a prefix like /api/b2b: a bare prefix call means info.
	if last == "b2b" || last == "api" {
		return "info"
	}
	return strings.ToLower(last)
}

// --- Endpoint bodies ---------------------------------------------------------

func (h *Handler) handleInfo(_ context.Context, call *Call) (any, int, *Error) {
	allowed := call.Key.AllowedEndpoints
	if allowed == nil {
		allowed = []string{}
	}
	return map[string]any{
		"company_name":          call.Client.CompanyName,
		"tier":                  call.Client.Tier,
		"credits_balance":       call.Client.CreditsBalance,
		"lifetime_credits_used": call.Client.LifetimeCreditsUsed,
		"allowed_endpoints":     allowed,
		"rate_limit_per_second": call.Client.RateLimitPerSecond,
	}, 0, nil
}

func (h *Handler) handleLeads(ctx context.Context, call *Call) (any, int, *Error) {
	limit := defaultLeadLimit
	if raw := call.Query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLeadLimit {
		limit = maxLeadLimit
	}

	available, err := h.leads.ListAvailable(ctx, limit)
	if err != nil {
		return nil, 0, h.internal(err, "list available leads")
	}

	listings := make([]lead.Listing, 0, len(available))
	for _, l := range available {
		listings = append(listings, l.PublicView())
	}
	return map[string]any{"leads": listings, "count": len(listings)}, 0, nil
}

func (h *Handler) handleInsights(ctx context.Context, call *Call) (any, int, *Error) {
	region := call.Query.Get("region")
	rows, err := h.insights.Query(ctx, region, 50)
	if err != nil {
		return nil, 0, h.internal(err, "query insights")
	}
	if rows == nil {
		rows = []insight.Insight{}
	}
	return map[string]any{"insights": rows, "region": region}, 0, nil
}

// handleDemographics serves a deterministic simulated payload; it stands in
// for a licensed demographic data source.
func (h *Handler) handleDemographics(_ context.Context, call *Call) (any, int, *Error) {
	region := strings.TrimSpace(call.Query.Get("region"))
	if region == "" {
		region = "national"
	}

	seed := regionSeed(region)
	return map[string]any{
		"region":          region,
		"population":      50_000 + int(seed%950_000),
		"median_age":      28 + int(seed%25),
		"median_income":   42_000 + int(seed%80_000),
		"owner_occupancy": 0.45 + float64(seed%40)/100,
		"simulated":       true,
	}, 0, nil
}

func (h *Handler) handleValuations(ctx context.Context, call *Call) (any, int, *Error) {
	propertyID := strings.TrimSpace(call.Query.Get("property_id"))
	if propertyID == "" {
		return nil, 0, apiErr(http.StatusBadRequest, CodeMissingParam, "property_id is required")
	}

	v, err := h.valuations.Latest(ctx, propertyID)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{"property_id": propertyID, "valuation": nil}, 0, nil
	}
	if err != nil {
		return nil, 0, h.internal(err, "latest valuation")
	}
	return map[string]any{"property_id": propertyID, "valuation": v}, 0, nil
}

func (h *Handler) handlePurchaseLead(ctx context.Context, call *Call) (any, int, *Error) {
	var payload struct {
		LeadID string `json:"lead_id"`
	}
	if len(call.Body) > 0 {
		if err := json.Unmarshal(call.Body, &payload); err != nil {
			return nil, 0, apiErr(http.StatusBadRequest, CodeMissingParam, "request body must be JSON")
		}
	}
	leadID := strings.TrimSpace(payload.LeadID)
	if leadID == "" {
		return nil, 0, apiErr(http.StatusBadRequest, CodeMissingParam, "lead_id is required")
	}

	l, err := h.leads.Get(ctx, leadID)
	if err != nil || l.IsSold {
		return nil, 0, apiErr(http.StatusNotFound, CodeLeadNotAvailable, "lead is not available")
	}

	cost := leads.PriceFor(l.Score)
	if call.Client.CreditsBalance < cost {
		return nil, 0, insufficientCredits(cost)
	}

	sold, purchase, buyer, err := h.leads.Purchase(ctx, leadID, call.Client.ID)
	switch {
	case errors.Is(err, storage.ErrLeadNotAvailable):
		return nil, 0, apiErr(http.StatusNotFound, CodeLeadNotAvailable, "lead is not available")
	case errors.Is(err, storage.ErrInsufficientCredits):
		return nil, 0, insufficientCredits(cost)
	case err != nil:
		return nil, 0, h.internal(err, "purchase lead")
	}

	return map[string]any{
		"lead":            sold,
		"purchase_id":     purchase.ID,
		"price":           purchase.Price,
		"credits_balance": buyer.CreditsBalance,
	}, cost, nil
}

func (h *Handler) internal(err error, op string) *Error {
	h.log.WithError(err).Error(op + " failed")
	return apiErr(http.StatusInternalServerError, CodeInternalError, "internal error")
}

// --- Responses ----------------------------------------------------------------

func (h *Handler) writeSuccess(w http.ResponseWriter, endpoint string, creditsUsed int, started time.Time, data any) {
	metrics.RecordGatewayCall(endpoint, "OK", creditsUsed)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
		"meta": map[string]any{
			"endpoint":         endpoint,
			"credits_used":     creditsUsed,
			"response_time_ms": h.now().Sub(started).Milliseconds(),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, endpoint string, e *Error) {
	metrics.RecordGatewayCall(endpoint, e.Code, 0)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)

	body := map[string]any{
		"error": e.Message,
		"code":  e.Code,
	}
	if e.Code == CodeInternalError {
		body["success"] = false
	}
	for k, v := range e.Extra {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}

// audit enqueues the usage record for this call; the recorder writes it off
// the response path.
func (h *Handler) audit(r *http.Request, keyID, clientID, endpoint string, status, creditsUsed int, started time.Time) {
	if h.recorder == nil {
		return
	}

	params := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	h.recorder.Record(usage.Record{
		ClientID:    clientID,
		APIKeyID:    keyID,
		Endpoint:    endpoint,
		Method:      r.Method,
		Params:      params,
		Status:      status,
		CreditsUsed: creditsUsed,
		LatencyMS:   h.now().Sub(started).Milliseconds(),
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
}

// validateKeyMaterial compares the presented key against the stored hash in
// constant time.
func validateKeyMaterial(presented, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(clients.HashKey(presented)), []byte(storedHash)) == 1
}

// regionSeed derives a stable pseudo-random seed from a region name so the
// simulated demographics stay consistent across calls.
func regionSeed(region string) uint64 {
	sum := sha256.Sum256([]byte(strings.ToLower(region)))
	return binary.BigEndian.Uint64(sum[:8])
}
