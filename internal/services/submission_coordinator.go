package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/registration"
)

// Registration outcome messages.
const (
	RegistrationPendingToast        = "Registering user..."
	RegistrationSucceededMessage    = "Registration successful. Welcome to VelvetWardrobe insiders!"
	RegistrationSucceededToast      = "Welcome to VelvetWardrobe insiders!"
	RegistrationFailedMessage       = "Registration failed"
	RegistrationUnknownErrorMessage = "Registration failed for an unknown reason."
	RegistrationErrorToast          = "Registration Error!"
)

const defaultRegistrationTimeout = 10 * time.Second

var (
	errCoordinatorBoardRequired        = errors.New("submission coordinator: feedback board is required")
	errCoordinatorRegistrationRequired = errors.New("submission coordinator: registration client is required")
)

// ConnectionErrorMessage is shown when the registration service could not be reached on port.
func ConnectionErrorMessage(port string) string {
	return "Connection error. Is the server running on port " + port + "?"
}

// SubmissionCoordinatorDeps wires validation outcomes to the board and the remote service.
type SubmissionCoordinatorDeps struct {
	Board        *FeedbackBoard
	Registration RegistrationClient
	Metrics      FormMetrics
	Timeout      time.Duration
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type submissionCoordinator struct {
	board    *FeedbackBoard
	client   RegistrationClient
	metrics  FormMetrics
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)
	newID    func() string
	inflight sync.WaitGroup
}

// NewSubmissionCoordinator constructs the coordinator for both storefront forms.
func NewSubmissionCoordinator(deps SubmissionCoordinatorDeps) (FormSubmissionService, error) {
	if deps.Board == nil {
		return nil, errCoordinatorBoardRequired
	}
	if deps.Registration == nil {
		return nil, errCoordinatorRegistrationRequired
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultRegistrationTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &submissionCoordinator{
		board:   deps.Board,
		client:  deps.Registration,
		metrics: deps.Metrics,
		timeout: timeout,
		logger:  logger,
		newID:   idGen,
	}, nil
}

// SubmitContact validates the contact form and settles it immediately.
func (c *submissionCoordinator) SubmitContact(ctx context.Context, namespace string, fields FormFieldSnapshot) SubmissionResult {
	form := domain.FormContact
	generation := c.board.Begin(namespace, form)
	attemptID := c.newID()

	path := c.enter(ctx, form, attemptID)
	verdict := ValidateContact(fields)
	if !verdict.Accepted {
		return c.reject(ctx, namespace, form, generation, attemptID, verdict, path)
	}
	path = c.advance(ctx, form, attemptID, path, domain.SubmissionAcceptedLocal)

	feedback := Feedback{
		Form:      form,
		Status:    domain.FeedbackSuccess,
		Message:   verdict.Message,
		ResetForm: true,
		Toast:     &Toast{Message: ContactAcceptedToastMessage, Tone: domain.ToastSuccess},
		AttemptID: attemptID,
	}
	feedback = c.show(ctx, namespace, generation, feedback)
	c.record(form, "accepted")
	c.logger(ctx, "form.contact.accepted", map[string]any{"attempt_id": attemptID})
	path = c.advance(ctx, form, attemptID, path, domain.SubmissionSettled)
	return SubmissionResult{
		State:    domain.SubmissionSettled,
		Path:     path,
		Verdict:  verdict,
		Feedback: feedback,
		Settled:  settledChannel(feedback),
	}
}

// SubmitRegistration validates the registration form. An accepted attempt returns pending
// feedback at once; the remote call runs on its own goroutine, detached from ctx's
// cancellation, and its outcome arrives on Settled.
func (c *submissionCoordinator) SubmitRegistration(ctx context.Context, namespace string, fields FormFieldSnapshot) SubmissionResult {
	form := domain.FormRegistration
	generation := c.board.Begin(namespace, form)
	attemptID := c.newID()

	path := c.enter(ctx, form, attemptID)
	verdict := ValidateRegistration(fields)
	if !verdict.Accepted {
		return c.reject(ctx, namespace, form, generation, attemptID, verdict, path)
	}
	path = c.advance(ctx, form, attemptID, path, domain.SubmissionAcceptedPendingRemote)

	pending := Feedback{
		Form:      form,
		Status:    domain.FeedbackPending,
		Message:   verdict.Message,
		Toast:     &Toast{Message: RegistrationPendingToast, Tone: domain.ToastInfo},
		AttemptID: attemptID,
	}
	pending = c.show(ctx, namespace, generation, pending)
	c.record(form, "pending")

	request := domain.RegistrationRequest{
		Name:     fields.Value(FieldName),
		Email:    fields.Value(FieldEmail),
		Password: fields.Value(FieldPassword),
	}
	settled := make(chan Feedback, 1)
	detached := context.WithoutCancel(ctx)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(settled)

		callCtx, cancel := context.WithTimeout(detached, c.timeout)
		defer cancel()

		outcome := c.registrationOutcome(callCtx, request)
		outcome.Form = form
		outcome.AttemptID = attemptID
		outcome.Generation = generation
		if c.board.Settle(namespace, form, generation, outcome) {
			c.logger(detached, "form.register.settled", map[string]any{
				"attempt_id": attemptID,
				"status":     string(outcome.Status),
			})
		} else {
			c.logger(detached, "form.register.superseded", map[string]any{
				"attempt_id": attemptID,
				"generation": generation,
			})
		}
		if outcome.Status == domain.FeedbackSuccess {
			c.record(form, "succeeded")
		} else {
			c.record(form, "failed")
		}
		settled <- outcome
	}()

	return SubmissionResult{
		State:    domain.SubmissionAcceptedPendingRemote,
		Path:     path,
		Verdict:  verdict,
		Feedback: pending,
		Settled:  settled,
	}
}

func (c *submissionCoordinator) registrationOutcome(ctx context.Context, request domain.RegistrationRequest) Feedback {
	_, err := c.client.Register(ctx, request)
	if err == nil {
		return Feedback{
			Status:    domain.FeedbackSuccess,
			Message:   RegistrationSucceededMessage,
			ResetForm: true,
			Toast:     &Toast{Message: RegistrationSucceededToast, Tone: domain.ToastSuccess},
		}
	}

	message := ConnectionErrorMessage(c.client.Port())
	var (
		remote     *registration.RemoteError
		unexpected *registration.UnexpectedResponseError
		transport  *registration.TransportError
	)
	switch {
	case errors.As(err, &remote):
		message = firstNonEmpty(remote.Message, RegistrationFailedMessage)
	case errors.As(err, &unexpected):
		message = firstNonEmpty(unexpected.Message, RegistrationUnknownErrorMessage)
	case errors.As(err, &transport):
		message = ConnectionErrorMessage(transport.Port)
	}
	c.logger(ctx, "form.register.failed", map[string]any{"error": err.Error()})
	return Feedback{
		Status:  domain.FeedbackError,
		Message: message,
		Toast:   &Toast{Message: RegistrationErrorToast, Tone: domain.ToastError},
	}
}

func (c *submissionCoordinator) reject(ctx context.Context, namespace string, form domain.FormKind, generation uint64, attemptID string, verdict domain.ValidationVerdict, path []domain.SubmissionState) SubmissionResult {
	feedback := c.show(ctx, namespace, generation, Feedback{
		Form:      form,
		Status:    domain.FeedbackError,
		Message:   verdict.Message,
		AttemptID: attemptID,
	})
	c.record(form, "rejected")
	return SubmissionResult{
		State:    domain.SubmissionRejected,
		Path:     c.advance(ctx, form, attemptID, path, domain.SubmissionRejected),
		Verdict:  verdict,
		Feedback: feedback,
		Settled:  settledChannel(feedback),
	}
}

// enter starts an attempt's state path at idle and moves it to validating.
func (c *submissionCoordinator) enter(ctx context.Context, form domain.FormKind, attemptID string) []domain.SubmissionState {
	path := []domain.SubmissionState{domain.SubmissionIdle}
	return c.advance(ctx, form, attemptID, path, domain.SubmissionValidating)
}

func (c *submissionCoordinator) advance(ctx context.Context, form domain.FormKind, attemptID string, path []domain.SubmissionState, next domain.SubmissionState) []domain.SubmissionState {
	c.logger(ctx, "form.state", map[string]any{
		"form":       string(form),
		"attempt_id": attemptID,
		"from":       string(path[len(path)-1]),
		"to":         string(next),
	})
	return append(path, next)
}

func (c *submissionCoordinator) show(ctx context.Context, namespace string, generation uint64, feedback Feedback) Feedback {
	feedback.Generation = generation
	if !c.board.Settle(namespace, feedback.Form, generation, feedback) {
		c.logger(ctx, "form.feedback.superseded", map[string]any{
			"form":       string(feedback.Form),
			"attempt_id": feedback.AttemptID,
		})
	}
	return feedback
}

func (c *submissionCoordinator) record(form domain.FormKind, outcome string) {
	if c.metrics != nil {
		c.metrics.FormSubmission(string(form), outcome)
	}
}

// Feedback returns the feedback currently shown for the session's form.
func (c *submissionCoordinator) Feedback(namespace string, form domain.FormKind) (Feedback, bool) {
	return c.board.Current(namespace, form)
}

// Wait blocks until every in-flight registration attempt has settled.
func (c *submissionCoordinator) Wait() {
	c.inflight.Wait()
}

func settledChannel(feedback Feedback) <-chan Feedback {
	ch := make(chan Feedback, 1)
	ch <- feedback
	close(ch)
	return ch
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
