// Package httpapi exposes the back-office REST API: client onboarding, API
// key management, credit top-ups, inventory loading, and audit access. It is
// separate from the metered B2B gateway and is meant to sit behind operator
// authentication.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/estatelink/marketplace/internal/app"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Options tunes the handler. The zero value is usable.
type Options struct {
	// AuditLogPath, when set, appends every admin request to a JSONL file in
	// addition to the in-memory ring.
	AuditLogPath string
	// AuditLogSize caps the in-memory audit ring.
	AuditLogSize int
}

// NewHandler returns a mux exposing the back-office REST API.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(opts.AuditLogSize, sink),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/clients", h.clients)
	mux.HandleFunc("/clients/", h.clientResources)
	mux.HandleFunc("/leads", h.leads)
	mux.HandleFunc("/leads/", h.leadResources)
	mux.HandleFunc("/insights", h.insights)
	mux.HandleFunc("/insights/refresh", h.insightsRefresh)
	mux.HandleFunc("/valuations", h.valuations)
	mux.HandleFunc("/valuations/", h.valuationResources)
	mux.HandleFunc("/audit", h.auditEntries)
	return h.withAudit(mux), nil
}

func (h *handler) clients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			CompanyName  string `json:"company_name"`
			ContactEmail string `json:"contact_email"`
			Tier         string `json:"tier"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		c, err := h.app.Clients.Create(r.Context(), payload.CompanyName, payload.ContactEmail, client.Tier(payload.Tier))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)

	case http.MethodGet:
		cs, err := h.app.Clients.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, cs)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) clientResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/clients"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	clientID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			c, err := h.app.Clients.Get(r.Context(), clientID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, c)
		case http.MethodPatch:
			h.updateClient(w, r, clientID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "credits":
		h.clientCredits(w, r, clientID)
	case "transactions":
		h.clientTransactions(w, r, clientID)
	case "keys":
		h.clientKeys(w, r, clientID, parts[2:])
	case "purchases":
		h.clientPurchases(w, r, clientID)
	case "usage":
		h.clientUsage(w, r, clientID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) updateClient(w http.ResponseWriter, r *http.Request, clientID string) {
	var payload struct {
		CompanyName        *string `json:"company_name"`
		ContactEmail       *string `json:"contact_email"`
		Tier               *string `json:"tier"`
		Active             *bool   `json:"active"`
		RateLimitPerSecond *int    `json:"rate_limit_per_second"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var tier *client.Tier
	if payload.Tier != nil {
		t := client.Tier(*payload.Tier)
		tier = &t
	}

	c, err := h.app.Clients.Update(r.Context(), clientID, payload.CompanyName, payload.ContactEmail, tier, payload.Active, payload.RateLimitPerSecond)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) clientCredits(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Amount    int    `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, tx, err := h.app.Clients.TopUp(r.Context(), clientID, payload.Amount, payload.Reference)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": c, "transaction": tx})
}

func (h *handler) clientTransactions(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	txs, err := h.app.Clients.Transactions(r.Context(), clientID, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) clientKeys(w http.ResponseWriter, r *http.Request, clientID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPost:
			var payload struct {
				Name             string   `json:"name"`
				AllowedEndpoints []string `json:"allowed_endpoints"`
				TTLHours         int      `json:"ttl_hours"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}

			issued, err := h.app.Clients.IssueKey(r.Context(), clientID, payload.Name, payload.AllowedEndpoints, time.Duration(payload.TTLHours)*time.Hour)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, issued)

		case http.MethodGet:
			keys, err := h.app.Clients.ListKeys(r.Context(), clientID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, keys)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	keyID := rest[0]
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	k, err := h.app.Clients.RevokeKey(r.Context(), clientID, keyID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (h *handler) clientPurchases(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ps, err := h.app.Leads.Purchases(r.Context(), clientID, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *handler) clientUsage(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	recs, err := h.app.Stores.Usage.ListUsage(r.Context(), clientID, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) leads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Source       string `json:"source"`
			PropertyType string `json:"property_type"`
			Location     string `json:"location"`
			Intent       string `json:"intent"`
			Score        int    `json:"score"`
			ContactName  string `json:"contact_name"`
			ContactEmail string `json:"contact_email"`
			ContactPhone string `json:"contact_phone"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		l, err := h.app.Leads.Create(r.Context(), lead.Lead{
			Source:       payload.Source,
			PropertyType: payload.PropertyType,
			Location:     payload.Location,
			Intent:       payload.Intent,
			Score:        payload.Score,
			ContactName:  payload.ContactName,
			ContactEmail: payload.ContactEmail,
			ContactPhone: payload.ContactPhone,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)

	case http.MethodGet:
		ls, err := h.app.Leads.ListAvailable(r.Context(), queryLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, ls)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) leadResources(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/leads"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	l, err := h.app.Leads.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) insights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Region         string  `json:"region"`
			MedianPrice    int     `json:"median_price"`
			PriceTrendPct  float64 `json:"price_trend_pct"`
			DemandScore    int     `json:"demand_score"`
			AvailableLeads int     `json:"available_leads"`
			Period         string  `json:"period"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		in, err := h.app.Insights.Record(r.Context(), insight.Insight{
			Region:         payload.Region,
			MedianPrice:    payload.MedianPrice,
			PriceTrendPct:  payload.PriceTrendPct,
			DemandScore:    payload.DemandScore,
			AvailableLeads: payload.AvailableLeads,
			Period:         payload.Period,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, in)

	case http.MethodGet:
		ins, err := h.app.Insights.Query(r.Context(), r.URL.Query().Get("region"), queryLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, ins)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) insightsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Insights.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *handler) valuations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		PropertyID     string  `json:"property_id"`
		EstimatedValue int     `json:"estimated_value"`
		Confidence     float64 `json:"confidence"`
		Method         string  `json:"method"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := h.app.Valuations.Record(r.Context(), valuation.Valuation{
		PropertyID:     payload.PropertyID,
		EstimatedValue: payload.EstimatedValue,
		Confidence:     payload.Confidence,
		Method:         payload.Method,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handler) valuationResources(w http.ResponseWriter, r *http.Request) {
	propertyID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/valuations"), "/")
	if propertyID == "" || strings.Contains(propertyID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	v, err := h.app.Valuations.Latest(r.Context(), propertyID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(queryLimit(r)))
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
