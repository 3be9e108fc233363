package prismic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName     = "finitefield.org/hanko-blog/internal/prismic"
	defaultTimeout = 5 * time.Second
	defaultRefTTL  = time.Minute
	// PreviewCookie is the cookie Prismic sets when an editor opens a preview session.
	PreviewCookie = "io.prismic.preview"
	maxErrorBody  = 4 << 10
)

var (
	// ErrMissingEndpoint is returned by New when no API entrypoint is configured.
	ErrMissingEndpoint = errors.New("prismic: endpoint is required")
	// ErrNotFound is returned when a query matches no document.
	ErrNotFound = errors.New("prismic: document not found")
	// ErrNoMasterRef is returned when the API entrypoint lists no master ref.
	ErrNoMasterRef = errors.New("prismic: api did not return a master ref")
)

// APIError reports a non-2xx response from the content API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("prismic: api responded %d", e.Status)
	}
	return fmt.Sprintf("prismic: api responded %d: %s", e.Status, e.Message)
}

// QueryOptions are the explicit search parameters sent with every query.
type QueryOptions struct {
	// Page is 1-based. Zero means the first page.
	Page int
	// PageSize is capped by the API at 100. Zero means the API default.
	PageSize int
	// Orderings are field paths, optionally suffixed with " desc".
	Orderings []string
	// Lang selects a locale; "*" asks for every locale. Empty means the master locale.
	Lang string
}

// DefaultQueryOptions returns the first page with the API default page size.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Page: 1, PageSize: 20}
}

// Client is a read-only client for the Prismic REST API v2.
type Client struct {
	endpoint    string
	accessToken string
	http        *http.Client
	logger      *zap.Logger
	tracer      trace.Tracer
	refTTL      time.Duration
	now         func() time.Time

	previewRef string
	refs       *refCache
}

type refCache struct {
	mu        sync.Mutex
	ref       string
	fetchedAt time.Time
}

// Option customises Client construction.
type Option func(*Client)

// WithAccessToken sets the token sent as access_token for private repositories.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = strings.TrimSpace(token)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRefTTL controls how long the master ref is reused before it is fetched again.
func WithRefTTL(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.refTTL = d
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a client for the API entrypoint, e.g. https://repo.cdn.prismic.io/api/v2.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("prismic: invalid endpoint %q: %w", endpoint, err)
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		refTTL:   defaultRefTTL,
		now:      time.Now,
		refs:     &refCache{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InvalidateAll drops the cached master ref so the next call resolves it again.
func (c *Client) InvalidateAll() {
	c.refs.mu.Lock()
	defer c.refs.mu.Unlock()
	c.refs.ref = ""
	c.refs.fetchedAt = time.Time{}
}

// UseMasterRef caches ref as the master ref, e.g. the one announced by a publish webhook. An
// empty ref drops the cache instead.
func (c *Client) UseMasterRef(ref string) {
	ref = strings.TrimSpace(ref)
	c.refs.mu.Lock()
	defer c.refs.mu.Unlock()
	c.refs.ref = ref
	c.refs.fetchedAt = time.Time{}
	if ref != "" {
		c.refs.fetchedAt = c.now()
	}
}

// ForRequest returns a copy of the client bound to r. When r carries a preview cookie the copy
// queries the preview ref instead of the master ref.
func (c *Client) ForRequest(r *http.Request) *Client {
	if c == nil || r == nil {
		return c
	}
	ref := previewRefFromRequest(r)
	if ref == "" {
		return c
	}
	clone := *c
	clone.previewRef = ref
	return &clone
}

// Query runs a document search and returns one page of results.
func (c *Client) Query(ctx context.Context, predicates []Predicate, opts QueryOptions) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "prismic.search", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ref, err := c.ref(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve ref")
		return Response{}, err
	}

	params := url.Values{}
	params.Set("ref", ref)
	if q := encodeQuery(predicates); q != "" {
		params.Set("q", q)
	}
	if opts.Page > 0 {
		params.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if len(opts.Orderings) > 0 {
		params.Set("orderings", "["+strings.Join(opts.Orderings, ",")+"]")
	}
	if opts.Lang != "" {
		params.Set("lang", opts.Lang)
	}
	span.SetAttributes(
		attribute.String("prismic.query", params.Get("q")),
		attribute.Int("prismic.page", opts.Page),
		attribute.Bool("prismic.preview", c.previewRef != ""),
	)

	var resp Response
	if err := c.get(ctx, c.endpoint+"/documents/search", params, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search")
		return Response{}, err
	}
	span.SetAttributes(attribute.Int("prismic.results", len(resp.Results)))
	return resp, nil
}

// GetByUID returns the document of docType whose uid matches.
func (c *Client) GetByUID(ctx context.Context, docType, uid string, opts QueryOptions) (Document, error) {
	docType = strings.TrimSpace(docType)
	if docType == "" {
		return Document{}, errors.New("prismic: document type is required")
	}
	if strings.TrimSpace(uid) == "" {
		return Document{}, ErrNotFound
	}
	opts.Page = 1
	opts.PageSize = 1
	resp, err := c.Query(ctx, []Predicate{UIDOf(docType, uid)}, opts)
	if err != nil {
		return Document{}, err
	}
	if len(resp.Results) == 0 {
		return Document{}, fmt.Errorf("%w: %s %q", ErrNotFound, docType, uid)
	}
	return resp.Results[0], nil
}

// ref returns the preview ref when bound to a preview request, else the cached master ref.
func (c *Client) ref(ctx context.Context) (string, error) {
	if c.previewRef != "" {
		return c.previewRef, nil
	}

	c.refs.mu.Lock()
	defer c.refs.mu.Unlock()
	if c.refs.ref != "" && c.now().Sub(c.refs.fetchedAt) < c.refTTL {
		return c.refs.ref, nil
	}

	ctx, span := c.tracer.Start(ctx, "prismic.api", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	params := url.Values{}
	var info apiInfo
	if err := c.get(ctx, c.endpoint, params, &info); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api")
		return "", err
	}
	ref, ok := info.masterRef()
	if !ok {
		span.SetStatus(codes.Error, "no master ref")
		return "", ErrNoMasterRef
	}
	c.refs.ref = ref
	c.refs.fetchedAt = c.now()
	c.logger.Debug("prismic: master ref refreshed", zap.String("ref", ref))
	return ref, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.accessToken != "" {
		params.Set("access_token", c.accessToken)
	}
	u := endpoint
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("prismic: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("prismic: request %s: %w", redact(endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
		c.logger.Warn("prismic: api error",
			zap.String("endpoint", redact(endpoint)),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("prismic: decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the message field Prismic puts in error bodies, else the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.RawQuery = ""
	return u.String()
}
