package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix              = "STOREFRONT_"
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultStorageDriver   = DriverMemory
	defaultSQLitePath      = "storefront.db"
	defaultKVCollection    = "storefront_kv"
	defaultConsistency     = ConsistencyOptimistic
	defaultWriteAttempts   = 3
	defaultWatchPoll       = 2 * time.Second
	defaultWatchTimeout    = 25 * time.Second
	defaultRegistrationURL = "http://127.0.0.1:5000"
	defaultRegistrationTTL = 10 * time.Second
	defaultSessionCookie   = "VELVET_SESSION"
	defaultSessionTTL      = 30 * 24 * time.Hour
	defaultBoardSize       = 4096
	defaultRegistrarPort   = "5000"
)

// Storage drivers understood by the kv store factory.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// Cart write consistency modes.
const (
	ConsistencyOptimistic    = "optimistic"
	ConsistencyLastWriteWins = "last_write_wins"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Cart         CartConfig
	Registration RegistrationConfig
	Session      SessionConfig
	ChangeFeed   ChangeFeedConfig
	Feedback     FeedbackConfig
	Registrar    RegistrarConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects and parameterises the key-value backend.
type StorageConfig struct {
	Driver                string
	SQLitePath            string
	PostgresDSN           string
	FirestoreProjectID    string
	FirestoreEmulatorHost string
	FirestoreCollection   string
}

// CartConfig tunes cart writes and change watching.
type CartConfig struct {
	Consistency       string
	MaxWriteAttempts  int
	WatchPollInterval time.Duration
	WatchTimeout      time.Duration
}

// RegistrationConfig points at the remote registration service.
type RegistrationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig controls the signed namespace cookie.
type SessionConfig struct {
	SigningKey string
	CookieName string
	Secure     bool
	TTL        time.Duration
}

// ChangeFeedConfig enables cross-instance change relay over Pub/Sub when ProjectID is set.
type ChangeFeedConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// FeedbackConfig sizes the per-session feedback board.
type FeedbackConfig struct {
	BoardSize int
}

// RegistrarConfig configures the development registration service.
type RegistrarConfig struct {
	Port string
}

// RegistrationPort returns the port of the configured registration endpoint, used in
// connection error feedback.
func (c RegistrationConfig) RegistrationPort() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	if port := u.Port(); port != "" {
		return port
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises the loader.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	configFile   string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env path; an empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithConfigFile sets a YAML file read beneath every env source.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) {
		o.configFile = path
	}
}

// WithEnvMap layers explicit values over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load resolves configuration from (lowest first) defaults, the YAML config file, the .env
// file, the process environment and explicit values.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	envLookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	configFile := options.configFile
	if configFile == "" {
		configFile, _ = envLookup(envPrefix + "CONFIG_FILE")
	}
	fileValues, err := loadYAML(configFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := envLookup(key); ok {
			return value, true
		}
		value, ok := fileValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver:                strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_DRIVER", defaultStorageDriver)),
			SQLitePath:            stringWithDefault(lookup, "STOREFRONT_STORAGE_SQLITE_PATH", defaultSQLitePath),
			PostgresDSN:           stringWithDefault(lookup, "STOREFRONT_STORAGE_POSTGRES_DSN", ""),
			FirestoreProjectID:    stringWithDefault(lookup, "STOREFRONT_STORAGE_FIRESTORE_PROJECT_ID", ""),
			FirestoreEmulatorHost: stringWithDefault(lookup, "STOREFRONT_STORAGE_FIRESTORE_EMULATOR_HOST", ""),
			FirestoreCollection:   stringWithDefault(lookup, "STOREFRONT_STORAGE_FIRESTORE_COLLECTION", defaultKVCollection),
		},
		Cart: CartConfig{
			Consistency:       strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CART_CONSISTENCY", defaultConsistency)),
			MaxWriteAttempts:  intWithDefault(lookup, "STOREFRONT_CART_MAX_WRITE_ATTEMPTS", defaultWriteAttempts),
			WatchPollInterval: durationWithDefault(lookup, "STOREFRONT_CART_WATCH_POLL_INTERVAL", defaultWatchPoll),
			WatchTimeout:      durationWithDefault(lookup, "STOREFRONT_CART_WATCH_TIMEOUT", defaultWatchTimeout),
		},
		Registration: RegistrationConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_REGISTRATION_BASE_URL", defaultRegistrationURL), "/"),
			Timeout: durationWithDefault(lookup, "STOREFRONT_REGISTRATION_TIMEOUT", defaultRegistrationTTL),
		},
		Session: SessionConfig{
			SigningKey: stringWithDefault(lookup, "STOREFRONT_SESSION_SIGNING_KEY", ""),
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_NAME", defaultSessionCookie),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", false),
			TTL:        durationWithDefault(lookup, "STOREFRONT_SESSION_TTL", defaultSessionTTL),
		},
		ChangeFeed: ChangeFeedConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_CHANGEFEED_PROJECT_ID", ""),
			Topic:        stringWithDefault(lookup, "STOREFRONT_CHANGEFEED_TOPIC", ""),
			Subscription: stringWithDefault(lookup, "STOREFRONT_CHANGEFEED_SUBSCRIPTION", ""),
		},
		Feedback: FeedbackConfig{
			BoardSize: intWithDefault(lookup, "STOREFRONT_FEEDBACK_BOARD_SIZE", defaultBoardSize),
		},
		Registrar: RegistrarConfig{
			Port: stringWithDefault(lookup, "STOREFRONT_REGISTRAR_PORT", defaultRegistrarPort),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if cfg.Storage.SQLitePath == "" {
			invalid = append(invalid, "Storage.SQLitePath")
		}
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			invalid = append(invalid, "Storage.PostgresDSN")
		}
	case DriverFirestore:
		if cfg.Storage.FirestoreProjectID == "" {
			invalid = append(invalid, "Storage.FirestoreProjectID")
		}
	default:
		invalid = append(invalid, "Storage.Driver")
	}
	if cfg.Cart.Consistency != ConsistencyOptimistic && cfg.Cart.Consistency != ConsistencyLastWriteWins {
		invalid = append(invalid, "Cart.Consistency")
	}
	if cfg.Cart.MaxWriteAttempts <= 0 {
		invalid = append(invalid, "Cart.MaxWriteAttempts")
	}
	if cfg.Cart.WatchPollInterval <= 0 {
		invalid = append(invalid, "Cart.WatchPollInterval")
	}
	if cfg.Cart.WatchTimeout <= 0 {
		invalid = append(invalid, "Cart.WatchTimeout")
	}
	if u, err := url.Parse(cfg.Registration.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, "Registration.BaseURL")
	}
	if cfg.Registration.Timeout <= 0 {
		invalid = append(invalid, "Registration.Timeout")
	}
	if cfg.Session.CookieName == "" {
		invalid = append(invalid, "Session.CookieName")
	}
	if cfg.ChangeFeed.ProjectID != "" && cfg.ChangeFeed.Topic == "" {
		invalid = append(invalid, "ChangeFeed.Topic")
	}
	if cfg.Feedback.BoardSize <= 0 {
		invalid = append(invalid, "Feedback.BoardSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

// loadYAML reads a sectioned YAML document and flattens it to env-style keys, so
// "cart: {consistency: x}" becomes STOREFRONT_CART_CONSISTENCY=x.
func loadYAML(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	values := make(map[string]string)
	flattenYAML(strings.TrimSuffix(envPrefix, "_"), doc, values)
	return values, nil
}

func flattenYAML(prefix string, node map[string]any, out map[string]string) {
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name := prefix + "_" + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
		switch value := node[key].(type) {
		case map[string]any:
			flattenYAML(name, value, out)
		case nil:
		case []any:
			parts := make([]string, 0, len(value))
			for _, item := range value {
				parts = append(parts, fmt.Sprint(item))
			}
			out[name] = strings.Join(parts, ",")
		default:
			out[name] = fmt.Sprint(value)
		}
	}
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
