package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/httpx"
	"github.com/velvetwardrobe/storefront/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the session cart endpoints.
type CartHandlers struct {
	carts   services.CartService
	watcher services.CartWatcher
}

// NewCartHandlers constructs cart handlers. Without a watcher the changes endpoint reports
// the current marker only.
func NewCartHandlers(carts services.CartService, watcher services.CartWatcher) *CartHandlers {
	return &CartHandlers{carts: carts, watcher: watcher}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Get("/changes", h.waitForChange)
}

type cartLinePayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Quantity int     `json:"quantity"`
	AddedAt  string  `json:"addedAt,omitempty"`
}

type cartPayload struct {
	Items         []cartLinePayload `json:"items"`
	Marker        string            `json:"marker"`
	TotalQuantity int               `json:"totalQuantity"`
}

type toastPayload struct {
	Message string `json:"message"`
	Tone    string `json:"tone"`
}

type addItemResponse struct {
	Cart   cartPayload     `json:"cart"`
	Item   cartLinePayload `json:"item"`
	Merged bool            `json:"merged"`
	Toast  toastPayload    `json:"toast"`
}

type cartChangeResponse struct {
	Changed bool   `json:"changed"`
	Marker  string `json:"marker"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}

	snapshot, err := h.carts.GetCart(ctx, ns)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	etag := cartETag(snapshot.Marker)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-store")
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(snapshot))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}

	candidate, err := parseCartCandidate(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.carts.AddItem(ctx, services.AddCartItemCommand{Namespace: ns, Candidate: candidate})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	w.Header().Set("ETag", cartETag(result.Cart.Marker))
	httpx.WriteJSON(w, http.StatusCreated, addItemResponse{
		Cart:   buildCartPayload(result.Cart),
		Item:   buildLinePayload(result.Item),
		Merged: result.Merged,
		Toast:  buildToastPayload(result.Toast),
	})
}

func (h *CartHandlers) waitForChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	since := domain.ChangeMarker(0)
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be a non-negative marker", http.StatusBadRequest))
			return
		}
		since = domain.ChangeMarker(value)
	}
	timeout, err := parseWaitTimeout(query.Get("timeout"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if h.watcher == nil {
		snapshot, err := h.carts.GetCart(ctx, ns)
		if err != nil {
			writeCartError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, cartChangeResponse{Changed: snapshot.Marker != since, Marker: snapshot.Marker.String()})
		return
	}

	change, err := h.watcher.Wait(ctx, ns, since, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartChangeResponse{Changed: change.Changed, Marker: change.Marker.String()})
}

// parseWaitTimeout accepts a Go duration ("10s") or whole seconds ("10"). Empty means the
// watcher's default.
func parseWaitTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, errors.New("timeout must not be negative")
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("timeout must be a duration such as 10s")
	}
	return d, nil
}

type addItemRequest struct {
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	Image    string          `json:"image"`
	Quantity *int            `json:"quantity"`
}

// parseCartCandidate reads a product card. A textual price goes through card price parsing;
// a JSON number is taken as is.
func parseCartCandidate(r *http.Request) (domain.CartCandidate, error) {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		return domain.CartCandidate{}, err
	}

	if isFormEncoded(r) {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return domain.CartCandidate{}, fmt.Errorf("invalid form body: %w", err)
		}
		quantity := 0
		if raw := strings.TrimSpace(values.Get("quantity")); raw != "" {
			quantity, err = strconv.Atoi(raw)
			if err != nil {
				return domain.CartCandidate{}, errors.New("quantity must be an integer")
			}
		}
		return services.CandidateFromCard(values.Get("name"), values.Get("price"), values.Get("image"), quantity), nil
	}

	var req addItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.CartCandidate{}, errors.New("body must be a JSON object")
	}
	quantity := 0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	candidate := services.CandidateFromCard(req.Name, "", req.Image, quantity)
	if len(req.Price) > 0 && string(req.Price) != "null" {
		var number float64
		var text string
		switch {
		case json.Unmarshal(req.Price, &number) == nil:
			candidate.Price = number
		case json.Unmarshal(req.Price, &text) == nil:
			candidate.Price = services.ParsePriceText(text)
		default:
			return domain.CartCandidate{}, errors.New("price must be a number or text")
		}
	}
	return candidate, nil
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_item", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "the cart kept changing; retry the request", http.StatusConflict))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable))
	}
}

func cartETag(marker domain.ChangeMarker) string {
	return fmt.Sprintf("\"cart-%d\"", int64(marker))
}

func buildCartPayload(snapshot domain.CartSnapshot) cartPayload {
	items := make([]cartLinePayload, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, buildLinePayload(item))
	}
	return cartPayload{
		Items:         items,
		Marker:        snapshot.Marker.String(),
		TotalQuantity: snapshot.TotalQuantity(),
	}
}

func buildLinePayload(item domain.CartLineItem) cartLinePayload {
	payload := cartLinePayload{
		ID:       item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Image:    item.Image,
		Quantity: item.Quantity,
	}
	if !item.AddedAt.IsZero() {
		payload.AddedAt = item.AddedAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func buildToastPayload(toast domain.Toast) toastPayload {
	return toastPayload{Message: toast.Message, Tone: string(toast.Tone)}
}
