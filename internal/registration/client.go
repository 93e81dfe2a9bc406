// Package registration talks to the external registration service that owns member accounts.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultSendName = "Dear"
	maxBodyBytes    = 64 << 10
)

var tracer = otel.Tracer("github.com/velvetwardrobe/storefront/internal/registration")

// ErrBaseURLRequired is returned by NewClient when no endpoint is configured.
var ErrBaseURLRequired = errors.New("registration: base url is required")

// Result is the parsed outcome of a successful registration.
type Result struct {
	Status  int
	Message string
}

// RemoteError reports a non-2xx answer. Message is the body's message field, possibly empty.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registration: remote status %d", e.Status)
	}
	return fmt.Sprintf("registration: remote status %d: %s", e.Status, e.Message)
}

// TransportError reports a request that never produced an HTTP response.
type TransportError struct {
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registration: transport (port %s): %v", e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnexpectedResponseError reports a 2xx answer whose message is not the success literal.
type UnexpectedResponseError struct {
	Message string
}

func (e *UnexpectedResponseError) Error() string {
	if e.Message == "" {
		return "registration: unexpected response"
	}
	return "registration: unexpected response: " + e.Message
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client issues registration calls against the configured base URL.
type Client struct {
	baseURL string
	port    string
	http    *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client; its timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient constructs a registration client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("registration: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		baseURL: base,
		port:    PortOf(parsed),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// PortOf returns the explicit port of u, or the scheme default.
func PortOf(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

// Port reports the port requests are sent to.
func (c *Client) Port() string {
	return c.port
}

type messagePayload struct {
	Message string `json:"message"`
}

// Register posts req to /register. The confirmation field never leaves the storefront: req
// only carries name, email and password.
func (c *Client) Register(ctx context.Context, req domain.RegistrationRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "registration.Register", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	status, body, err := c.do(ctx, span, http.MethodPost, "register", req)
	if err != nil {
		return Result{}, err
	}

	var payload messagePayload
	decodeErr := json.Unmarshal(body, &payload)
	if status < 200 || status > 299 {
		if decodeErr != nil {
			payload.Message = ""
		}
		err := &RemoteError{Status: status, Message: strings.TrimSpace(payload.Message)}
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if decodeErr != nil || payload.Message != domain.RegistrationSuccessMessage {
		if decodeErr != nil {
			payload.Message = ""
		}
		err := &UnexpectedResponseError{Message: strings.TrimSpace(payload.Message)}
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return Result{Status: status, Message: payload.Message}, nil
}

type sendDataPayload struct {
	Status string `json:"status"`
}

// SendData posts {"name": name} to /send-data and returns the status field of the answer.
func (c *Client) SendData(ctx context.Context, name string) (string, error) {
	ctx, span := tracer.Start(ctx, "registration.SendData", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSendName
	}
	status, body, err := c.do(ctx, span, http.MethodPost, "send-data", map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	var payload sendDataPayload
	decodeErr := json.Unmarshal(body, &payload)
	if status < 200 || status > 299 {
		var msg messagePayload
		_ = json.Unmarshal(body, &msg)
		err := &RemoteError{Status: status, Message: strings.TrimSpace(msg.Message)}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if decodeErr != nil {
		err := &UnexpectedResponseError{}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return payload.Status, nil
}

// Ping reports whether the registration host answers GET /healthz. Any response below 500
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "registration.Ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	status, _, err := c.do(ctx, span, http.MethodGet, "healthz", nil)
	if err != nil {
		return err
	}
	if status >= http.StatusInternalServerError {
		err := &RemoteError{Status: status}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, span trace.Span, method, path string, payload any) (int, []byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("registration: encode: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(endpoint),
		attribute.String("server.port", c.port),
	)

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		terr := &TransportError{Port: c.port, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return 0, nil, terr
	}
	defer resp.Body.Close()
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return 0, nil, &TransportError{Port: c.port, Err: err}
		}
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, respBody, nil
}
