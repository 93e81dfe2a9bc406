package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velvetwardrobe/storefront/internal/platform/requestctx"
)

func newTestManager(t *testing.T, key string) *Manager {
	t.Helper()
	m, err := NewManager(Config{SigningKey: key}, nil,
		WithClock(func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { return "01HZXSESSION" }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestMiddlewareIssuesSessionAndNamespace(t *testing.T) {
	m := newTestManager(t, "test-key")
	var namespace string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		namespace = requestctx.Namespace(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if namespace != "01HZXSESSION" {
		t.Fatalf("expected namespace from new session, got %q", namespace)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "VELVET_SESSION" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	data, err := m.Decode(cookies[0].Value)
	if err != nil || data.ID != "01HZXSESSION" {
		t.Fatalf("cookie does not decode: %+v %v", data, err)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	m := newTestManager(t, "test-key")
	existing := m.Encode(Data{ID: "shared-tab-session", CreatedAt: time.Unix(1700000000, 0).UTC()})

	var namespace string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		namespace = requestctx.Namespace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "VELVET_SESSION", Value: existing})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if namespace != "shared-tab-session" {
		t.Fatalf("expected namespace from cookie, got %q", namespace)
	}
}

func TestDecodeRejectsTamperedOrForeignCookies(t *testing.T) {
	m := newTestManager(t, "test-key")
	other := newTestManager(t, "other-key")
	valid := m.Encode(Data{ID: "abc"})

	cases := map[string]string{
		"foreign key":   other.Encode(Data{ID: "abc"}),
		"no signature":  "eyJpZCI6ImFiYyJ9",
		"bad base64":    "!!!.???",
		"tampered":      valid[:len(valid)-2] + "xx",
		"empty payload": m.Encode(Data{}),
	}
	for name, value := range cases {
		if _, err := m.Decode(value); err == nil {
			t.Errorf("%s: expected decode failure", name)
		}
	}
}

func TestNewManagerGeneratesEphemeralKey(t *testing.T) {
	a, err := NewManager(Config{}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	b, err := NewManager(Config{}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := b.Decode(a.Encode(Data{ID: "abc"})); err == nil {
		t.Fatal("ephemeral keys must differ between managers")
	}
}
