// Package app wires the blog components shared by the web server and the build command.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/cms"
	"finitefield.org/hanko-blog/internal/config"
	"finitefield.org/hanko-blog/internal/i18n"
	"finitefield.org/hanko-blog/internal/post"
	"finitefield.org/hanko-blog/internal/prismic"
	"finitefield.org/hanko-blog/internal/secrets"
	"finitefield.org/hanko-blog/internal/site"
	"finitefield.org/hanko-blog/internal/staticgen"
)

// AsideBlock is the content block rendered next to every post.
const AsideBlock = "aside"

// SupportedLocales lists the UI locales shipped under locales/.
var SupportedLocales = []string{"pt-BR", "en"}

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Prismic   *prismic.Client
	Posts     *post.Service
	Blocks    *cms.Store
	Bundle    *i18n.Bundle
	Renderer  *site.Renderer
	Site      site.Site
	Generator *staticgen.Generator
}

// NewSecretFetcher builds the resolver used for secret:// configuration values. It reads its
// own settings straight from the process environment since it runs before config.Load.
func NewSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := strings.TrimSpace(os.Getenv("SECRETS_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if file := strings.TrimSpace(os.Getenv("SECRETS_FALLBACK_FILE")); file != "" {
		opts = append(opts, secrets.WithFallbackFile(file))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used for content API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// New wires every component from cfg. A missing content API endpoint is returned as
// prismic.ErrMissingEndpoint and is fatal for callers.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []prismic.Option{
		prismic.WithAccessToken(cfg.Prismic.AccessToken),
		prismic.WithTimeout(cfg.Prismic.Timeout),
		prismic.WithRefTTL(cfg.Prismic.RefTTL),
		prismic.WithLogger(logger.Named("prismic")),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, prismic.WithHTTPClient(o.httpClient))
	}
	client, err := prismic.New(cfg.Prismic.Endpoint, clientOpts...)
	if err != nil {
		return nil, err
	}

	posts := post.NewService(client,
		post.WithDocumentType(cfg.Prismic.DocumentType),
		post.WithPageSize(cfg.Prismic.PageSize),
		post.WithOrderings(cfg.Prismic.Orderings...),
		post.WithLogger(logger.Named("post")),
	)

	bundle, err := i18n.Load(cfg.Site.LocalesDir, cfg.Site.Locale, SupportedLocales)
	if err != nil {
		return nil, fmt.Errorf("app: load locales: %w", err)
	}
	renderer, err := site.NewRenderer(cfg.Site.TemplatesDir, cfg.Site.Dev)
	if err != nil {
		return nil, fmt.Errorf("app: load templates: %w", err)
	}
	blocks := cms.NewStore(cfg.Site.ContentDir)

	s := site.Site{
		Name:   cfg.Site.Name,
		URL:    cfg.Site.URL,
		Lang:   cfg.Site.Locale,
		Bundle: bundle,
	}
	gen, err := staticgen.NewGenerator(posts, renderer, s,
		staticgen.WithAside(blocks, AsideBlock),
		staticgen.WithGeneratorLogger(logger.Named("staticgen")),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Prismic:   client,
		Posts:     posts,
		Blocks:    blocks,
		Bundle:    bundle,
		Renderer:  renderer,
		Site:      s,
		Generator: gen,
	}, nil
}

// Preview returns the hook that renders requests carrying a Prismic preview cookie from the
// preview ref.
func (a *App) Preview() staticgen.PreviewFunc {
	return func(r *http.Request) (staticgen.PostSource, bool) {
		if _, err := r.Cookie(prismic.PreviewCookie); err != nil {
			return nil, false
		}
		return a.Posts.WithRepository(a.Prismic.ForRequest(r)), true
	}
}
