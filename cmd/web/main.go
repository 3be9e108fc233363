package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/app"
	"finitefield.org/hanko-blog/internal/config"
	mw "finitefield.org/hanko-blog/internal/middleware"
	"finitefield.org/hanko-blog/internal/observability"
	"finitefield.org/hanko-blog/internal/prismic"
	"finitefield.org/hanko-blog/internal/staticgen"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), "hanko-blog")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("web")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := app.NewSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	blog, err := app.New(cfg, logger)
	if err != nil {
		if errors.Is(err, prismic.ErrMissingEndpoint) {
			logger.Fatal("POINTER_PRISMIC is not set")
		}
		logger.Fatal("failed to initialise blog", zap.Error(err))
	}

	fallback, err := staticgen.ParseFallback(cfg.Site.Fallback)
	if err != nil {
		logger.Fatal("invalid fallback mode", zap.Error(err))
	}
	store := staticgen.NewStore(staticgen.WithMissingLimit(cfg.Site.MissingLimit, cfg.Site.MissingTTL))
	seedStore(ctx, blog, store, fallback, logger)

	pages := staticgen.NewHandler(blog.Generator, store,
		staticgen.WithFallback(fallback),
		staticgen.WithPreview(blog.Preview()),
		staticgen.WithHandlerLogger(logger.Named("pages")),
	)
	revalidate := staticgen.NewRevalidateHandler(cfg.Prismic.WebhookSecret, logger.Named("revalidate"),
		blog.Prismic,
		staticgen.InvalidatorFunc(blog.Blocks.Invalidate),
		store,
	)
	if cfg.Prismic.WebhookSecret == "" {
		logger.Warn("PRISMIC_WEBHOOK_SECRET is not set; revalidation webhook will reject every call")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(logger, cfg, pages, revalidate),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("hanko-blog web listening", zap.String("fallback", string(fallback)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	pages.Wait()
}

// seedStore loads the pre-built pages. Without a build, fallback false still needs the list of
// known slugs, so it is fetched from the content API.
func seedStore(ctx context.Context, blog *app.App, store *staticgen.Store, fallback staticgen.Fallback, logger *zap.Logger) {
	dir := blog.Config.Site.StaticDir
	m, err := store.LoadDir(dir)
	switch {
	case err == nil:
		logger.Info("loaded pre-built pages", zap.String("dir", dir), zap.String("build_id", m.BuildID), zap.Int("pages", len(m.Routes)))
		return
	case errors.Is(err, staticgen.ErrNoManifest):
		logger.Info("no pre-built pages found", zap.String("dir", dir))
	default:
		logger.Warn("failed to load pre-built pages", zap.String("dir", dir), zap.Error(err))
	}
	if fallback != staticgen.FallbackFalse {
		return
	}
	paths, err := blog.Generator.Paths(ctx)
	if err != nil {
		logger.Warn("failed to enumerate posts", zap.Error(err))
		return
	}
	for _, p := range paths {
		store.MarkListed(p.Params.Slug)
	}
	logger.Info("listed posts from content api", zap.Int("posts", len(paths)))
}

func newRouter(logger *zap.Logger, cfg config.Config, pages *staticgen.Handler, revalidate http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	// RealIP trusts X-Forwarded-For; only deploy behind a proxy that sets it.
	r.Use(chimw.RealIP)
	r.Use(observability.InjectLoggerMiddleware(logger))
	r.Use(observability.TraceMiddleware())
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(observability.RecoveryMiddleware(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	assets := http.StripPrefix("/assets", mw.AssetsWithCache(filepath.Join(cfg.Site.PublicDir, "assets"), cfg.Site.Dev))
	r.Handle("/assets/*", assets)

	r.Method(http.MethodGet, "/post/{slug}", pages)
	r.Method(http.MethodHead, "/post/{slug}", pages)
	r.Method(http.MethodPost, "/api/revalidate", revalidate)
	r.NotFound(pages.NotFound)
	return r
}
