package domain

import "strings"

// FormKind names one of the storefront forms.
type FormKind string

const (
	FormContact      FormKind = "contact"
	FormRegistration FormKind = "register"
)

// FormFieldSnapshot maps field names to trimmed values, captured once per submission.
type FormFieldSnapshot map[string]string

// NewFormFieldSnapshot trims every value of raw.
func NewFormFieldSnapshot(raw map[string]string) FormFieldSnapshot {
	snapshot := make(FormFieldSnapshot, len(raw))
	for key, value := range raw {
		snapshot[key] = strings.TrimSpace(value)
	}
	return snapshot
}

// Value returns the field value or an empty string when absent.
func (s FormFieldSnapshot) Value(field string) string {
	return s[field]
}

// ValidationVerdict is the accept/reject outcome of validating one snapshot.
type ValidationVerdict struct {
	Accepted bool
	Message  string
}

// SubmissionState tracks one submission attempt through the coordinator.
type SubmissionState string

const (
	SubmissionIdle                  SubmissionState = "idle"
	SubmissionValidating            SubmissionState = "validating"
	SubmissionRejected              SubmissionState = "rejected"
	SubmissionAcceptedLocal         SubmissionState = "accepted_local"
	SubmissionAcceptedPendingRemote SubmissionState = "accepted_pending_remote"
	SubmissionSettled               SubmissionState = "settled"
)

// FeedbackStatus is the visible status of a form.
type FeedbackStatus string

const (
	FeedbackPending FeedbackStatus = "pending"
	FeedbackSuccess FeedbackStatus = "success"
	FeedbackError   FeedbackStatus = "error"
)

// ToastTone selects the toast styling.
type ToastTone string

const (
	ToastInfo    ToastTone = "info"
	ToastSuccess ToastTone = "success"
	ToastError   ToastTone = "error"
)

// Toast is a transient notification shown alongside feedback.
type Toast struct {
	Message string
	Tone    ToastTone
}

// Feedback is the user-visible result of a submission attempt.
type Feedback struct {
	Form       FormKind
	Status     FeedbackStatus
	Message    string
	ResetForm  bool
	Toast      *Toast
	AttemptID  string
	Generation uint64
}

// Settled reports whether the feedback is final for its attempt.
func (f Feedback) Settled() bool {
	return f.Status == FeedbackSuccess || f.Status == FeedbackError
}

// RegistrationRequest is the payload sent to the registration service.
type RegistrationRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegistrationSuccessMessage is the literal the registration service returns on success.
const RegistrationSuccessMessage = "Registered successfully"
