package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/changefeed"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/platform/requestctx"
	"github.com/velvetwardrobe/storefront/internal/registration"
	"github.com/velvetwardrobe/storefront/internal/repositories/kvstore"
	"github.com/velvetwardrobe/storefront/internal/services"
)

type stubRegistrar struct {
	err    error
	status string
}

func (s *stubRegistrar) Register(context.Context, domain.RegistrationRequest) (registration.Result, error) {
	if s.err != nil {
		return registration.Result{}, s.err
	}
	return registration.Result{Status: 200, Message: domain.RegistrationSuccessMessage}, nil
}

func (s *stubRegistrar) Port() string { return "5000" }

func (s *stubRegistrar) SendData(_ context.Context, name string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Data received for " + name, nil
}

func withNamespace(ns string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			namespace := ns
			if header := r.Header.Get("X-Test-Namespace"); header != "" {
				namespace = header
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithNamespace(r.Context(), namespace)))
		})
	}
}

type testServer struct {
	handler     http.Handler
	submissions services.FormSubmissionService
	feed        *changefeed.Broadcaster
}

func newTestServer(t *testing.T, client *stubRegistrar) testServer {
	t.Helper()
	repo, err := kvstore.NewCartRepository(kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}
	feed := changefeed.NewBroadcaster()
	carts, err := services.NewCartService(services.CartServiceDeps{
		Repository: repo,
		Publisher:  feed,
		Clock:      time.Now,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	watcher, err := services.NewCartWatcher(services.CartWatcherDeps{
		Repository:   repo,
		Subscriber:   feed,
		PollInterval: 10 * time.Millisecond,
		MaxTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewCartWatcher: %v", err)
	}
	board, _ := services.NewFeedbackBoard(32)
	submissions, err := services.NewSubmissionCoordinator(services.SubmissionCoordinatorDeps{
		Board:        board,
		Registration: client,
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("NewSubmissionCoordinator: %v", err)
	}

	router := NewRouter(
		WithAPIMiddlewares(withNamespace("sess-1")),
		WithCartRoutes(NewCartHandlers(carts, watcher).Routes),
		WithFormRoutes(NewFormHandlers(submissions).Routes),
		WithAdditionalRoutes(NewUtilityHandlers(services.NewSearchService(), client).Routes),
	)
	return testServer{handler: router, submissions: submissions, feed: feed}
}

func (s testServer) do(t *testing.T, method, target, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}
