// Package session issues the signed cookie that names a shopper's storage namespace.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/velvetwardrobe/storefront/internal/platform/requestctx"
)

const (
	defaultCookieName = "VELVET_SESSION"
	defaultTTL        = 30 * 24 * time.Hour
)

// Data is the signed cookie payload.
type Data struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config configures the manager.
type Config struct {
	SigningKey string
	CookieName string
	Secure     bool
	TTL        time.Duration
}

// Manager reads and writes session cookies.
type Manager struct {
	key    []byte
	name   string
	secure bool
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

// Option customises the manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithIDGenerator overrides how new session ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewManager constructs a manager. Without a signing key a random process-local key is used,
// so sessions do not survive restarts.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(strings.TrimSpace(cfg.SigningKey))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn("session: using ephemeral signing key; set STOREFRONT_SESSION_SIGNING_KEY for production")
	}
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = defaultCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	m := &Manager{
		key:    key,
		name:   name,
		secure: cfg.Secure,
		ttl:    ttl,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Middleware loads or creates the session and stores its id on the request context as the
// storage namespace. The cookie is refreshed on every response.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := m.Read(r)
		if err != nil {
			data = Data{ID: m.newID(), CreatedAt: m.now().UTC()}
		}
		m.Write(w, data)
		ctx := requestctx.WithNamespace(r.Context(), data.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errInvalidCookie = errors.New("session: invalid cookie")

// Read parses and verifies the session cookie of r.
func (m *Manager) Read(r *http.Request) (Data, error) {
	c, err := r.Cookie(m.name)
	if err != nil {
		return Data{}, err
	}
	return m.Decode(c.Value)
}

// Decode verifies and parses an encoded cookie value.
func (m *Manager) Decode(value string) (Data, error) {
	payloadPart, sigPart, ok := strings.Cut(value, ".")
	if !ok {
		return Data{}, errInvalidCookie
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return Data{}, errInvalidCookie
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return Data{}, errInvalidCookie
	}
	if !hmac.Equal(sig, m.sign(payload)) {
		return Data{}, errInvalidCookie
	}
	var data Data
	if err := json.Unmarshal(payload, &data); err != nil || strings.TrimSpace(data.ID) == "" {
		return Data{}, errInvalidCookie
	}
	return data, nil
}

// Encode signs data into a cookie value.
func (m *Manager) Encode(data Data) string {
	payload, _ := json.Marshal(data)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(m.sign(payload))
}

// Write sets the session cookie on w.
func (m *Manager) Write(w http.ResponseWriter, data Data) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    m.Encode(data),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  m.now().Add(m.ttl),
	})
}

// CookieName reports the cookie the manager reads.
func (m *Manager) CookieName() string {
	return m.name
}

func (m *Manager) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
