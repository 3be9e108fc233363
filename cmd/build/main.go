package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"finitefield.org/hanko-blog/internal/app"
	"finitefield.org/hanko-blog/internal/config"
	"finitefield.org/hanko-blog/internal/observability"
	"finitefield.org/hanko-blog/internal/prismic"
	"finitefield.org/hanko-blog/internal/staticgen"
	"finitefield.org/hanko-blog/internal/storage"
)

const userAgent = "hanko-blog-build"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), "hanko-blog")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	logger := baseLogger.Named("build")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := app.NewSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}

	err = run(ctx, os.Args[1:], os.Stderr, logger,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	_ = fetcher.Close()
	_ = baseLogger.Sync()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("build failed", zap.Error(err))
		os.Exit(1)
	}
}

type flags struct {
	out     string
	publish bool
	bucket  string
	prefix  string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.out, "out", "", "output directory (defaults to BLOG_STATIC_DIR)")
	fs.BoolVar(&f.publish, "publish", false, "upload the build to the publish bucket")
	fs.StringVar(&f.bucket, "bucket", "", "bucket to publish to (defaults to BLOG_PUBLISH_BUCKET)")
	fs.StringVar(&f.prefix, "prefix", "", "object prefix inside the bucket")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func run(ctx context.Context, args []string, stderr io.Writer, logger *zap.Logger, configOpts ...config.Option) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(ctx, configOpts...)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration: %s", strings.Join(invalid.Fields(), ", "))
		}
		return err
	}
	out := f.out
	if out == "" {
		out = cfg.Site.StaticDir
	}
	bucket := f.bucket
	if bucket == "" {
		bucket = cfg.Build.PublishBucket
	}
	if f.publish && bucket == "" {
		return errors.New("-publish requires -bucket or BLOG_PUBLISH_BUCKET")
	}

	blog, err := app.New(cfg, logger)
	if err != nil {
		if errors.Is(err, prismic.ErrMissingEndpoint) {
			return errors.New("POINTER_PRISMIC is not set")
		}
		return err
	}

	builder := staticgen.NewBuilder(blog.Generator,
		staticgen.WithConcurrency(cfg.Build.Concurrency),
		staticgen.WithAssets(filepath.Join(cfg.Site.PublicDir, "assets")),
		staticgen.WithBuilderLogger(logger),
	)
	manifest, err := builder.Build(ctx, out)
	if err != nil {
		return err
	}
	if !f.publish {
		return nil
	}

	client, err := gcs.NewClient(ctx, option.WithUserAgent(userAgent))
	if err != nil {
		return fmt.Errorf("initialise storage client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	copier, err := storage.NewCopier(client)
	if err != nil {
		return err
	}
	return publish(ctx, copier, bucket, f.prefix, out, manifest.BuildID, logger)
}

func publish(ctx context.Context, store storage.ObjectStore, bucket, prefix, dir, buildID string, logger *zap.Logger) error {
	publisher, err := storage.NewPublisher(store, bucket,
		storage.WithPrefix(prefix),
		storage.WithPublishLogger(logger),
	)
	if err != nil {
		return err
	}
	res, err := publisher.Publish(ctx, dir)
	if err != nil {
		return fmt.Errorf("publish build %s: %w", buildID, err)
	}
	logger.Info("published", zap.String("bucket", bucket), zap.String("build_id", res.BuildID), zap.Int("objects", res.Objects))
	return nil
}
