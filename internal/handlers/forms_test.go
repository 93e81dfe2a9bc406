package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/velvetwardrobe/storefront/internal/registration"
	"github.com/velvetwardrobe/storefront/internal/services"
)

const validRegistration = `{"name":"Ada","email":"ada@example.com","password":"velvet123","confirmPassword":"velvet123"}`

func TestFormHandlersContactAccepted(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/contact", "application/json",
		`{"name":"Ada","email":"ada@example.com","topic":"styling","message":"I would love a fitting next week."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "settled" {
		t.Fatalf("unexpected state %v", body["state"])
	}
	assertPath(t, body, "idle", "validating", "accepted_local", "settled")
	feedback := body["feedback"].(map[string]any)
	if feedback["status"] != "success" || feedback["message"] != services.ContactAcceptedMessage || feedback["resetForm"] != true {
		t.Fatalf("unexpected feedback %v", feedback)
	}
	toast := feedback["toast"].(map[string]any)
	if toast["message"] != services.ContactAcceptedToastMessage {
		t.Fatalf("unexpected toast %v", toast)
	}
}

func TestFormHandlersContactRejected(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/contact", "application/x-www-form-urlencoded",
		"name=Ada&email=ada%40example.com&topic=styling&message=too+short")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	feedback := decodeBody(t, rr)["feedback"].(map[string]any)
	if feedback["status"] != "error" || feedback["message"] != services.ContactShortMessage {
		t.Fatalf("unexpected feedback %v", feedback)
	}
	if feedback["resetForm"] != false {
		t.Fatal("rejected forms keep their fields")
	}
	if _, ok := feedback["toast"]; ok {
		t.Fatalf("rejection must not carry a toast, got %v", feedback["toast"])
	}
}

func TestFormHandlersRegisterPendingThenSettled(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/register", "application/json", validRegistration)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "accepted_pending_remote" {
		t.Fatalf("unexpected state %v", body["state"])
	}
	feedback := body["feedback"].(map[string]any)
	if feedback["status"] != "pending" || feedback["message"] != services.RegistrationPendingMessage {
		t.Fatalf("unexpected pending feedback %v", feedback)
	}

	srv.submissions.Wait()
	rr = srv.do(t, http.MethodGet, "/api/v1/forms/register/feedback", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	settled := decodeBody(t, rr)
	if settled["status"] != "success" || settled["message"] != services.RegistrationSucceededMessage {
		t.Fatalf("unexpected settled feedback %v", settled)
	}
}

func TestFormHandlersRegisterWaitReturnsSettled(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{err: &registration.RemoteError{Status: http.StatusBadRequest, Message: "User already exists"}})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/register?wait=true", "application/x-www-form-urlencoded",
		"name=Ada&email=ada%40example.com&password=velvet123&confirm_password=velvet123")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "settled" {
		t.Fatalf("unexpected state %v", body["state"])
	}
	assertPath(t, body, "idle", "validating", "accepted_pending_remote", "settled")
	feedback := body["feedback"].(map[string]any)
	if feedback["status"] != "error" || feedback["message"] != "User already exists" {
		t.Fatalf("unexpected feedback %v", feedback)
	}
	if feedback["resetForm"] != false {
		t.Fatal("failed registrations keep their fields")
	}
	if feedback["toast"].(map[string]any)["message"] != services.RegistrationErrorToast {
		t.Fatalf("unexpected toast %v", feedback["toast"])
	}
}

func TestFormHandlersRegisterTransportFailureNamesPort(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{err: &registration.TransportError{Port: "5000", Err: errors.New("connection refused")}})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/register?wait=1", "application/json", validRegistration)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	feedback := decodeBody(t, rr)["feedback"].(map[string]any)
	if feedback["message"] != services.ConnectionErrorMessage("5000") {
		t.Fatalf("unexpected message %v", feedback["message"])
	}
}

func TestFormHandlersRegisterRejectsMismatch(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/register", "application/json",
		`{"name":"Ada","email":"ada@example.com","password":"velvet123","confirm-password":"velvet124"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	feedback := decodeBody(t, rr)["feedback"].(map[string]any)
	if feedback["message"] != services.RegistrationMismatchMessage {
		t.Fatalf("unexpected message %v", feedback["message"])
	}
}

func TestFormHandlersFeedbackLookup(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})

	rr := srv.do(t, http.MethodGet, "/api/v1/forms/newsletter/feedback", "", "")
	if rr.Code != http.StatusNotFound || decodeBody(t, rr)["error"] != "unknown_form" {
		t.Fatalf("expected unknown_form 404, got %d %s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, http.MethodGet, "/api/v1/forms/contact/feedback", "", "")
	if rr.Code != http.StatusNotFound || decodeBody(t, rr)["error"] != "feedback_not_found" {
		t.Fatalf("expected feedback_not_found 404, got %d %s", rr.Code, rr.Body.String())
	}

	srv.do(t, http.MethodPost, "/api/v1/forms/contact", "application/json", `{"name":"Ada"}`)
	rr = srv.do(t, http.MethodGet, "/api/v1/forms/contact/feedback", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeBody(t, rr)["message"] != services.ContactIncompleteMessage {
		t.Fatalf("unexpected feedback %s", rr.Body.String())
	}
}

func TestFormHandlersRejectMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubRegistrar{})
	rr := srv.do(t, http.MethodPost, "/api/v1/forms/contact", "application/json", `{"name":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func assertPath(t *testing.T, body map[string]any, want ...string) {
	t.Helper()
	raw, _ := body["path"].([]any)
	got := make([]string, 0, len(raw))
	for _, state := range raw {
		got = append(got, fmt.Sprint(state))
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected path %v, got %v", want, got)
	}
}
