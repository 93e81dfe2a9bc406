package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/velvetwardrobe/storefront/internal/platform/httpx"
	"github.com/velvetwardrobe/storefront/internal/registration"
	"github.com/velvetwardrobe/storefront/internal/services"
)

// DataSender relays the auxiliary send-data call to the registration host.
type DataSender interface {
	SendData(ctx context.Context, name string) (string, error)
}

// UtilityHandlers serves the search box and the send-data relay.
type UtilityHandlers struct {
	search services.SearchService
	sender DataSender
}

// NewUtilityHandlers constructs the handlers; either dependency may be nil.
func NewUtilityHandlers(search services.SearchService, sender DataSender) *UtilityHandlers {
	return &UtilityHandlers{search: search, sender: sender}
}

// Routes wires /search and /send-data.
func (h *UtilityHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/search", h.runSearch)
	r.Post("/send-data", h.sendData)
}

type searchResponse struct {
	Query    string       `json:"query"`
	Accepted bool         `json:"accepted"`
	Toast    toastPayload `json:"toast"`
}

func (h *UtilityHandlers) runSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.search == nil {
		httpx.WriteError(ctx, w, httpx.NewError("search_unavailable", "search is unavailable", http.StatusServiceUnavailable))
		return
	}
	fields, err := decodeFields(r)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	raw := fields["query"]
	if raw == "" {
		raw = fields["q"]
	}

	result := h.search.Query(raw)
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusUnprocessableEntity
	}
	httpx.WriteJSON(w, status, searchResponse{
		Query:    result.Query,
		Accepted: result.Accepted,
		Toast:    buildToastPayload(result.Toast),
	})
}

func (h *UtilityHandlers) sendData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sender == nil {
		httpx.WriteError(ctx, w, httpx.NewError("registration_unavailable", "registration host is not configured", http.StatusServiceUnavailable))
		return
	}
	fields, err := decodeFields(r)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	status, err := h.sender.SendData(ctx, strings.TrimSpace(fields["name"]))
	if err != nil {
		var transport *registration.TransportError
		if errors.As(err, &transport) {
			httpx.WriteError(ctx, w, httpx.NewError("registration_unreachable", services.ConnectionErrorMessage(transport.Port), http.StatusBadGateway))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("registration_failed", err.Error(), http.StatusBadGateway))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}
