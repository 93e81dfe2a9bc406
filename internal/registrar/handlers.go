package registrar

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/httpx"
	"github.com/velvetwardrobe/storefront/internal/platform/requestctx"
)

// Response messages returned by the registrar.
const (
	MissingRegistrationFieldsMessage = "Missing name, email or password."
	UserExistsMessage                = "User already exists"
	MissingLoginFieldsMessage        = "Missing email or password."
	InvalidCredentialsMessage        = "Invalid email or password."
	LoginSucceededMessage            = "Login successful."
)

const maxRegistrarBody = 16 * 1024

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewRouter exposes svc over HTTP. Extra middleware runs before every route.
func NewRouter(svc *Service, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	for _, m := range mw {
		if m != nil {
			r.Use(m)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})

	h := &handlers{svc: svc}
	r.Get("/healthz", h.healthz)
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/send-data", h.sendData)
	return r
}

type handlers struct {
	svc *Service
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": domain.HealthStatusOK})
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	err := h.svc.Register(r.Context(), domain.RegistrationRequest{Name: req.Name, Email: req.Email, Password: req.Password})
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: domain.RegistrationSuccessMessage})
	case errors.Is(err, ErrMissingFields):
		httpx.WriteJSON(w, http.StatusBadRequest, messageResponse{Message: MissingRegistrationFieldsMessage})
	case errors.Is(err, ErrUserExists):
		httpx.WriteJSON(w, http.StatusBadRequest, messageResponse{Message: UserExistsMessage})
	default:
		requestctx.Logger(r.Context()).Error("registrar.register.failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "user storage is unavailable", http.StatusServiceUnavailable))
	}
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	_, err := h.svc.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: LoginSucceededMessage})
	case errors.Is(err, ErrMissingFields):
		httpx.WriteJSON(w, http.StatusBadRequest, messageResponse{Message: MissingLoginFieldsMessage})
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteJSON(w, http.StatusUnauthorized, messageResponse{Message: InvalidCredentialsMessage})
	default:
		requestctx.Logger(r.Context()).Error("registrar.login.failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "user storage is unavailable", http.StatusServiceUnavailable))
	}
}

func (h *handlers) sendData(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": h.svc.Acknowledge(strings.TrimSpace(req.Name))})
}

// decodeCredentials reads a JSON body; an empty body decodes as no fields.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrarBody+1))
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "could not read body", http.StatusBadRequest))
		return req, false
	}
	if len(data) > maxRegistrarBody {
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return req, false
	}
	if strings.TrimSpace(string(data)) == "" {
		return req, true
	}
	if err := json.Unmarshal(data, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "body must be a JSON object", http.StatusBadRequest))
		return req, false
	}
	return req, true
}
