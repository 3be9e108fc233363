package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultDocumentType      = "publications"
	defaultPageSize          = 100
	defaultPrismicTimeout    = 5 * time.Second
	defaultRefTTL            = time.Minute
	defaultTemplatesDir      = "templates"
	defaultPublicDir         = "public"
	defaultContentDir        = "content"
	defaultLocalesDir        = "locales"
	defaultStaticDir         = "out"
	defaultLocale            = "pt-BR"
	defaultSiteName          = "spacetraveling"
	defaultBuildConcurrency  = 4
	defaultMissingLimit      = 4096
	defaultMissingTTL        = 10 * time.Minute
	defaultLogLevel          = "info"
)

// Fallback modes for slugs that were not pre-built.
const (
	FallbackBlocking = "blocking"
	FallbackTrue     = "true"
	FallbackFalse    = "false"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server  ServerConfig
	Prismic PrismicConfig
	Site    SiteConfig
	Build   BuildConfig
	Secrets SecretsConfig
	Log     LogConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// PrismicConfig holds the content API settings. Endpoint comes from POINTER_PRISMIC.
type PrismicConfig struct {
	Endpoint      string
	AccessToken   string
	DocumentType  string
	PageSize      int
	Orderings     []string
	Timeout       time.Duration
	RefTTL        time.Duration
	WebhookSecret string
}

// SiteConfig controls rendering of the public pages.
type SiteConfig struct {
	Dev          bool
	TemplatesDir string
	PublicDir    string
	ContentDir   string
	LocalesDir   string
	StaticDir    string
	Fallback     string
	Locale       string
	URL          string
	Name         string
	// MissingLimit bounds the remembered not-found slugs; MissingTTL is how long each is kept.
	MissingLimit int
	MissingTTL   time.Duration
}

// BuildConfig controls the static pre-build.
type BuildConfig struct {
	Concurrency   int
	PublishBucket string
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string
}

// SecretResolver resolves references to external secrets (e.g. secret:// URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
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

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// secret references. A missing POINTER_PRISMIC yields a *ValidationError.
func Load(ctx context.Context, opts ...Option) (Config, error) {
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

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	// Port resolution: prefer BLOG_SERVER_PORT, then Cloud Run's PORT.
	port := stringWithDefault(lookup, "BLOG_SERVER_PORT", "")
	if port == "" {
		port = stringWithDefault(lookup, "PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:              port,
			ReadHeaderTimeout: durationWithDefault(lookup, "BLOG_SERVER_READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),
			ReadTimeout:       durationWithDefault(lookup, "BLOG_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:      durationWithDefault(lookup, "BLOG_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:       durationWithDefault(lookup, "BLOG_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Prismic: PrismicConfig{
			Endpoint:      strings.TrimSpace(stringWithDefault(lookup, "POINTER_PRISMIC", "")),
			AccessToken:   stringWithDefault(lookup, "PRISMIC_ACCESS_TOKEN", ""),
			DocumentType:  stringWithDefault(lookup, "PRISMIC_DOCUMENT_TYPE", defaultDocumentType),
			PageSize:      intWithDefault(lookup, "PRISMIC_PAGE_SIZE", defaultPageSize),
			Orderings:     csvWithDefault(lookup, "PRISMIC_ORDERINGS"),
			Timeout:       durationWithDefault(lookup, "PRISMIC_TIMEOUT", defaultPrismicTimeout),
			RefTTL:        durationWithDefault(lookup, "PRISMIC_REF_TTL", defaultRefTTL),
			WebhookSecret: stringWithDefault(lookup, "PRISMIC_WEBHOOK_SECRET", ""),
		},
		Site: SiteConfig{
			Dev:          boolWithDefault(lookup, "BLOG_DEV", false) || boolWithDefault(lookup, "DEV", false),
			TemplatesDir: stringWithDefault(lookup, "BLOG_TEMPLATES_DIR", defaultTemplatesDir),
			PublicDir:    stringWithDefault(lookup, "BLOG_PUBLIC_DIR", defaultPublicDir),
			ContentDir:   stringWithDefault(lookup, "BLOG_CONTENT_DIR", defaultContentDir),
			LocalesDir:   stringWithDefault(lookup, "BLOG_LOCALES_DIR", defaultLocalesDir),
			StaticDir:    stringWithDefault(lookup, "BLOG_STATIC_DIR", defaultStaticDir),
			Fallback:     strings.ToLower(stringWithDefault(lookup, "BLOG_FALLBACK", FallbackBlocking)),
			Locale:       stringWithDefault(lookup, "BLOG_LOCALE", defaultLocale),
			URL:          strings.TrimRight(stringWithDefault(lookup, "BLOG_SITE_URL", ""), "/"),
			Name:         stringWithDefault(lookup, "BLOG_SITE_NAME", defaultSiteName),
			MissingLimit: intWithDefault(lookup, "BLOG_MISSING_LIMIT", defaultMissingLimit),
			MissingTTL:   durationWithDefault(lookup, "BLOG_MISSING_TTL", defaultMissingTTL),
		},
		Build: BuildConfig{
			Concurrency:   intWithDefault(lookup, "BLOG_BUILD_CONCURRENCY", defaultBuildConcurrency),
			PublishBucket: stringWithDefault(lookup, "BLOG_PUBLISH_BUCKET", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "SECRETS_FALLBACK_FILE", ""),
		},
		Log: LogConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	secretFields := []*string{
		&cfg.Prismic.AccessToken,
		&cfg.Prismic.WebhookSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsSecretReference reports whether value points at an external secret.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !IsSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Prismic.Endpoint == "" {
		missing = append(missing, "Prismic.Endpoint")
	}
	if strings.TrimSpace(cfg.Prismic.DocumentType) == "" {
		missing = append(missing, "Prismic.DocumentType")
	}
	if cfg.Prismic.PageSize <= 0 || cfg.Prismic.PageSize > 100 {
		missing = append(missing, "Prismic.PageSize")
	}
	switch cfg.Site.Fallback {
	case FallbackBlocking, FallbackTrue, FallbackFalse:
	default:
		missing = append(missing, "Site.Fallback")
	}
	if cfg.Build.Concurrency <= 0 {
		missing = append(missing, "Build.Concurrency")
	}
	if cfg.Site.MissingLimit <= 0 {
		missing = append(missing, "Site.MissingLimit")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
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
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
