package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/httpx"
	"github.com/velvetwardrobe/storefront/internal/services"
)

// confirmPasswordAliases lists the accepted spellings of the confirmation field, in priority order.
var confirmPasswordAliases = []string{services.FieldConfirmPassword, "confirm_password", "confirm-password"}

// FormHandlers exposes the contact and registration forms.
type FormHandlers struct {
	submissions services.FormSubmissionService
}

// NewFormHandlers constructs form handlers.
func NewFormHandlers(submissions services.FormSubmissionService) *FormHandlers {
	return &FormHandlers{submissions: submissions}
}

// Routes wires the /forms endpoints onto the provided router.
func (h *FormHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/contact", h.submitContact)
	r.Post("/register", h.submitRegistration)
	r.Get("/{form}/feedback", h.currentFeedback)
}

type feedbackPayload struct {
	Form       string        `json:"form"`
	Status     string        `json:"status"`
	Message    string        `json:"message"`
	ResetForm  bool          `json:"resetForm"`
	Toast      *toastPayload `json:"toast,omitempty"`
	AttemptID  string        `json:"attemptId,omitempty"`
	Generation uint64        `json:"generation"`
}

type submissionResponse struct {
	State    string          `json:"state"`
	Path     []string        `json:"path"`
	Feedback feedbackPayload `json:"feedback"`
}

func (h *FormHandlers) submitContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.submissions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("forms_unavailable", "form service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}
	raw, err := decodeFields(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result := h.submissions.SubmitContact(ctx, ns, domain.NewFormFieldSnapshot(pick(raw,
		services.FieldName, services.FieldEmail, services.FieldTopic, services.FieldMessage)))
	writeSubmission(w, result, http.StatusOK)
}

func (h *FormHandlers) submitRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.submissions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("forms_unavailable", "form service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}
	raw, err := decodeFields(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	fields := pick(raw, services.FieldName, services.FieldEmail, services.FieldPassword)
	for _, alias := range confirmPasswordAliases {
		if value, ok := raw[alias]; ok {
			fields[services.FieldConfirmPassword] = value
			break
		}
	}

	result := h.submissions.SubmitRegistration(ctx, ns, domain.NewFormFieldSnapshot(fields))
	if result.State == domain.SubmissionAcceptedPendingRemote && wantsSettled(r) {
		select {
		case settled, ok := <-result.Settled:
			if ok && settled.Settled() {
				writeSubmission(w, result.Settle(settled), http.StatusOK)
				return
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
		}
	}
	writeSubmission(w, result, http.StatusAccepted)
}

func (h *FormHandlers) currentFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.submissions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("forms_unavailable", "form service is unavailable", http.StatusServiceUnavailable))
		return
	}
	ns, ok := sessionNamespace(ctx, w)
	if !ok {
		return
	}
	form := domain.FormKind(strings.TrimSpace(chi.URLParam(r, "form")))
	if form != domain.FormContact && form != domain.FormRegistration {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_form", "form must be contact or register", http.StatusNotFound))
		return
	}
	feedback, ok := h.submissions.Feedback(ns, form)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("feedback_not_found", "no feedback for this form yet", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFeedbackPayload(feedback))
}

// wantsSettled reports whether the caller asked to hold the response until the attempt settles.
func wantsSettled(r *http.Request) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("wait")))
	return err == nil && value
}

func writeSubmission(w http.ResponseWriter, result services.SubmissionResult, acceptedStatus int) {
	status := acceptedStatus
	if result.State == domain.SubmissionRejected {
		status = http.StatusUnprocessableEntity
	}
	path := make([]string, 0, len(result.Path))
	for _, state := range result.Path {
		path = append(path, string(state))
	}
	httpx.WriteJSON(w, status, submissionResponse{
		State:    string(result.State),
		Path:     path,
		Feedback: buildFeedbackPayload(result.Feedback),
	})
}

func buildFeedbackPayload(feedback domain.Feedback) feedbackPayload {
	payload := feedbackPayload{
		Form:       string(feedback.Form),
		Status:     string(feedback.Status),
		Message:    feedback.Message,
		ResetForm:  feedback.ResetForm,
		AttemptID:  feedback.AttemptID,
		Generation: feedback.Generation,
	}
	if feedback.Toast != nil {
		toast := buildToastPayload(*feedback.Toast)
		payload.Toast = &toast
	}
	return payload
}

func pick(raw map[string]string, keys ...string) map[string]string {
	out := make(map[string]string, len(keys)+1)
	for _, key := range keys {
		out[key] = raw[key]
	}
	return out
}
