package services

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/registration"
)

type stubRegistrationClient struct {
	mu           sync.Mutex
	port         string
	registerFunc func(ctx context.Context, req domain.RegistrationRequest) (registration.Result, error)
	requests     []domain.RegistrationRequest
}

func (s *stubRegistrationClient) Register(ctx context.Context, req domain.RegistrationRequest) (registration.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.registerFunc != nil {
		return s.registerFunc(ctx, req)
	}
	return registration.Result{Status: 200, Message: domain.RegistrationSuccessMessage}, nil
}

func (s *stubRegistrationClient) Port() string {
	if s.port == "" {
		return "5000"
	}
	return s.port
}

type countingFormMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingFormMetrics) FormSubmission(form, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[form+"/"+outcome]++
}

func newCoordinator(t *testing.T, client RegistrationClient, metrics FormMetrics) FormSubmissionService {
	t.Helper()
	board, err := NewFeedbackBoard(16)
	if err != nil {
		t.Fatalf("NewFeedbackBoard: %v", err)
	}
	coordinator, err := NewSubmissionCoordinator(SubmissionCoordinatorDeps{
		Board:        board,
		Registration: client,
		Metrics:      metrics,
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("NewSubmissionCoordinator: %v", err)
	}
	return coordinator
}

func validRegistration() FormFieldSnapshot {
	return registrationFields("Ada", "ada@example.com", "secret123", "secret123")
}

func awaitSettled(t *testing.T, result SubmissionResult) Feedback {
	t.Helper()
	select {
	case fb, ok := <-result.Settled:
		if !ok {
			t.Fatal("settled channel closed without feedback")
		}
		return fb
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not settle")
	}
	return Feedback{}
}

func TestSubmitContactAccepted(t *testing.T) {
	metrics := &countingFormMetrics{}
	coordinator := newCoordinator(t, &stubRegistrationClient{}, metrics)

	result := coordinator.SubmitContact(context.Background(), "s1", contactFields("Ada", "a@b.com", "Styling", "I would love a styling session."))
	if result.State != domain.SubmissionSettled {
		t.Fatalf("unexpected state %s", result.State)
	}
	fb := awaitSettled(t, result)
	if fb.Status != domain.FeedbackSuccess || fb.Message != ContactAcceptedMessage || !fb.ResetForm {
		t.Fatalf("unexpected feedback %+v", fb)
	}
	if fb.Toast == nil || fb.Toast.Message != ContactAcceptedToastMessage || fb.Toast.Tone != domain.ToastSuccess {
		t.Fatalf("unexpected toast %+v", fb.Toast)
	}
	if current, ok := coordinator.Feedback("s1", domain.FormContact); !ok || current.Message != ContactAcceptedMessage {
		t.Fatalf("board not updated: %+v", current)
	}
	if metrics.outcomes["contact/accepted"] != 1 {
		t.Fatalf("unexpected metrics %v", metrics.outcomes)
	}
}

func TestSubmitContactRejectedKeepsForm(t *testing.T) {
	coordinator := newCoordinator(t, &stubRegistrationClient{}, nil)
	result := coordinator.SubmitContact(context.Background(), "s1", contactFields("Ada", "a@b", "Styling", "I would love a styling session."))
	if result.State != domain.SubmissionRejected {
		t.Fatalf("unexpected state %s", result.State)
	}
	if result.Feedback.Status != domain.FeedbackError || result.Feedback.Message != ContactInvalidEmailMessage || result.Feedback.ResetForm {
		t.Fatalf("unexpected feedback %+v", result.Feedback)
	}
	if result.Feedback.Toast != nil {
		t.Fatalf("rejections carry no toast, got %+v", result.Feedback.Toast)
	}
}

func TestSubmitRegistrationRejectedMakesNoRequest(t *testing.T) {
	client := &stubRegistrationClient{}
	coordinator := newCoordinator(t, client, nil)
	result := coordinator.SubmitRegistration(context.Background(), "s1", registrationFields("Ada", "ada@example.com", "secret123", "secret321"))
	coordinator.Wait()
	if result.State != domain.SubmissionRejected || result.Feedback.Message != RegistrationMismatchMessage {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(client.requests) != 0 {
		t.Fatalf("no request may be sent for a rejected attempt, got %d", len(client.requests))
	}
}

func TestSubmitRegistrationSuccess(t *testing.T) {
	client := &stubRegistrationClient{}
	metrics := &countingFormMetrics{}
	coordinator := newCoordinator(t, client, metrics)

	result := coordinator.SubmitRegistration(context.Background(), "s1", validRegistration())
	if result.State != domain.SubmissionAcceptedPendingRemote {
		t.Fatalf("unexpected state %s", result.State)
	}
	if result.Feedback.Status != domain.FeedbackPending || result.Feedback.Message != RegistrationPendingMessage {
		t.Fatalf("unexpected pending feedback %+v", result.Feedback)
	}
	if result.Feedback.Toast == nil || result.Feedback.Toast.Message != RegistrationPendingToast || result.Feedback.Toast.Tone != domain.ToastInfo {
		t.Fatalf("unexpected pending toast %+v", result.Feedback.Toast)
	}

	fb := awaitSettled(t, result)
	if fb.Status != domain.FeedbackSuccess || fb.Message != RegistrationSucceededMessage || !fb.ResetForm {
		t.Fatalf("unexpected settled feedback %+v", fb)
	}
	if fb.Toast == nil || fb.Toast.Message != RegistrationSucceededToast {
		t.Fatalf("unexpected toast %+v", fb.Toast)
	}
	if _, ok := <-result.Settled; ok {
		t.Fatal("exactly one settled feedback per attempt")
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(client.requests))
	}
	if got := client.requests[0]; got != (domain.RegistrationRequest{Name: "Ada", Email: "ada@example.com", Password: "secret123"}) {
		t.Fatalf("unexpected request %+v", got)
	}
	coordinator.Wait()
	if metrics.outcomes["register/pending"] != 1 || metrics.outcomes["register/succeeded"] != 1 {
		t.Fatalf("unexpected metrics %v", metrics.outcomes)
	}
}

func TestSubmitRegistrationFailures(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		message string
	}{
		{"user exists", &registration.RemoteError{Status: 400, Message: "User already exists"}, "User already exists"},
		{"remote without message", &registration.RemoteError{Status: 500}, RegistrationFailedMessage},
		{"unexpected body", &registration.UnexpectedResponseError{Message: "maybe"}, "maybe"},
		{"unexpected empty body", &registration.UnexpectedResponseError{}, RegistrationUnknownErrorMessage},
		{"transport", &registration.TransportError{Port: "5000", Err: errors.New("connection refused")}, "Connection error. Is the server running on port 5000?"},
		{"unclassified", errors.New("boom"), "Connection error. Is the server running on port 7070?"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &stubRegistrationClient{
				port: "7070",
				registerFunc: func(context.Context, domain.RegistrationRequest) (registration.Result, error) {
					return registration.Result{}, tc.err
				},
			}
			coordinator := newCoordinator(t, client, nil)
			fb := awaitSettled(t, coordinator.SubmitRegistration(context.Background(), "s1", validRegistration()))
			if fb.Status != domain.FeedbackError || fb.Message != tc.message || fb.ResetForm {
				t.Fatalf("unexpected feedback %+v", fb)
			}
			if fb.Toast == nil || fb.Toast.Message != RegistrationErrorToast || fb.Toast.Tone != domain.ToastError {
				t.Fatalf("unexpected toast %+v", fb.Toast)
			}
			if current, _ := coordinator.Feedback("s1", domain.FormRegistration); current.Message != tc.message {
				t.Fatalf("board shows %+v", current)
			}
		})
	}
}

func TestSubmitRegistrationSurvivesRequestCancellation(t *testing.T) {
	client := &stubRegistrationClient{
		registerFunc: func(ctx context.Context, _ domain.RegistrationRequest) (registration.Result, error) {
			time.Sleep(20 * time.Millisecond)
			if err := ctx.Err(); err != nil {
				return registration.Result{}, &registration.TransportError{Port: "5000", Err: err}
			}
			return registration.Result{Status: 200, Message: domain.RegistrationSuccessMessage}, nil
		},
	}
	coordinator := newCoordinator(t, client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	result := coordinator.SubmitRegistration(ctx, "s1", validRegistration())
	cancel()

	if fb := awaitSettled(t, result); fb.Status != domain.FeedbackSuccess {
		t.Fatalf("request cancellation must not abort the attempt, got %+v", fb)
	}
}

func TestSubmitRegistrationStaleOutcomeDoesNotOverwriteNewer(t *testing.T) {
	release := make(chan struct{})
	client := &stubRegistrationClient{
		registerFunc: func(_ context.Context, req domain.RegistrationRequest) (registration.Result, error) {
			if req.Name == "Slow" {
				<-release
				return registration.Result{}, &registration.RemoteError{Status: 400, Message: "User already exists"}
			}
			return registration.Result{Status: 200, Message: domain.RegistrationSuccessMessage}, nil
		},
	}
	coordinator := newCoordinator(t, client, nil)

	slow := coordinator.SubmitRegistration(context.Background(), "s1", registrationFields("Slow", "slow@example.com", "secret123", "secret123"))
	fast := coordinator.SubmitRegistration(context.Background(), "s1", validRegistration())
	if fb := awaitSettled(t, fast); fb.Status != domain.FeedbackSuccess {
		t.Fatalf("unexpected fast outcome %+v", fb)
	}
	close(release)
	if fb := awaitSettled(t, slow); fb.Message != "User already exists" {
		t.Fatalf("slow attempt still settles on its own channel, got %+v", fb)
	}
	coordinator.Wait()

	current, ok := coordinator.Feedback("s1", domain.FormRegistration)
	if !ok || current.Status != domain.FeedbackSuccess || current.Generation != fast.Feedback.Generation {
		t.Fatalf("stale outcome overwrote newer feedback: %+v", current)
	}
}

func TestNewSubmissionCoordinatorValidatesDeps(t *testing.T) {
	board, _ := NewFeedbackBoard(4)
	if _, err := NewSubmissionCoordinator(SubmissionCoordinatorDeps{Registration: &stubRegistrationClient{}}); err == nil {
		t.Fatal("expected error without board")
	}
	if _, err := NewSubmissionCoordinator(SubmissionCoordinatorDeps{Board: board}); err == nil {
		t.Fatal("expected error without registration client")
	}
}

func TestSubmissionPaths(t *testing.T) {
	coordinator := newCoordinator(t, &stubRegistrationClient{}, nil)
	ctx := context.Background()

	cases := map[string]struct {
		result SubmissionResult
		want   []domain.SubmissionState
	}{
		"contact accepted": {
			result: coordinator.SubmitContact(ctx, "s1", contactFields("Ada", "a@b.com", "Styling", "I would love a styling session.")),
			want:   []domain.SubmissionState{domain.SubmissionIdle, domain.SubmissionValidating, domain.SubmissionAcceptedLocal, domain.SubmissionSettled},
		},
		"contact rejected": {
			result: coordinator.SubmitContact(ctx, "s2", contactFields("", "", "", "")),
			want:   []domain.SubmissionState{domain.SubmissionIdle, domain.SubmissionValidating, domain.SubmissionRejected},
		},
		"registration pending": {
			result: coordinator.SubmitRegistration(ctx, "s3", validRegistration()),
			want:   []domain.SubmissionState{domain.SubmissionIdle, domain.SubmissionValidating, domain.SubmissionAcceptedPendingRemote},
		},
	}
	coordinator.Wait()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if !reflect.DeepEqual(tc.result.Path, tc.want) {
				t.Fatalf("expected path %v, got %v", tc.want, tc.result.Path)
			}
			if tc.result.State != tc.want[len(tc.want)-1] {
				t.Fatalf("state %s does not end the path %v", tc.result.State, tc.result.Path)
			}
		})
	}
}

func TestSubmissionResultSettle(t *testing.T) {
	coordinator := newCoordinator(t, &stubRegistrationClient{}, nil)
	pending := coordinator.SubmitRegistration(context.Background(), "s1", validRegistration())
	fb := awaitSettled(t, pending)

	settled := pending.Settle(fb)
	if settled.State != domain.SubmissionSettled || settled.Feedback.Status != domain.FeedbackSuccess {
		t.Fatalf("unexpected settled result %+v", settled)
	}
	if len(settled.Path) != len(pending.Path)+1 {
		t.Fatalf("expected settled to extend the path, got %v", settled.Path)
	}
	if pending.State != domain.SubmissionAcceptedPendingRemote || len(pending.Path) != 3 {
		t.Fatalf("Settle must not modify the pending result, got %+v", pending)
	}
	if again := settled.Settle(fb); len(again.Path) != len(settled.Path) {
		t.Fatalf("settling twice must not extend the path, got %v", again.Path)
	}
	if still := pending.Settle(Feedback{Status: domain.FeedbackPending}); still.State != domain.SubmissionAcceptedPendingRemote {
		t.Fatalf("pending feedback must not settle, got %s", still.State)
	}
}
