package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/hanko-blog/internal/staticgen"
)

const (
	htmlCacheControl     = "public, max-age=0, must-revalidate"
	manifestCacheControl = "no-cache"
	assetCacheControl    = "public, max-age=604800, stale-while-revalidate=86400"
	defaultCacheControl  = "public, max-age=3600"

	defaultPublishConcurrency = 8
)

// PublishResult summarises one publish.
type PublishResult struct {
	BuildID string
	Objects int
}

// Publisher uploads a build directory to a bucket. Files are staged under
// builds/<buildId>/ and then promoted to the live keys; the manifest is promoted last so readers
// only see it once every page it lists is live.
type Publisher struct {
	store       ObjectStore
	bucket      string
	prefix      string
	concurrency int
	logger      *zap.Logger
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

// WithPrefix places every object under prefix.
func WithPrefix(prefix string) PublisherOption {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithPublishConcurrency bounds parallel uploads.
func WithPublishConcurrency(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPublishLogger sets the logger.
func WithPublishLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher constructs a Publisher writing to bucket through store.
func NewPublisher(store ObjectStore, bucket string, opts ...PublisherOption) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("storage publisher: object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage publisher: bucket is required")
	}
	p := &Publisher{
		store:       store,
		bucket:      bucket,
		concurrency: defaultPublishConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish uploads the build in dir. dir must hold a manifest written by the builder. Only the
// manifest routes and the assets/ tree are uploaded, so files left by earlier builds stay local.
func (p *Publisher) Publish(ctx context.Context, dir string) (PublishResult, error) {
	manifest, err := staticgen.ReadManifest(dir)
	if err != nil {
		return PublishResult{}, err
	}
	pages, err := buildFiles(dir, manifest)
	if err != nil {
		return PublishResult{}, err
	}

	// Stage and promote everything except the manifest.
	if err := p.each(ctx, pages, func(ctx context.Context, rel string) error {
		return p.publishFile(ctx, dir, manifest.BuildID, rel)
	}); err != nil {
		return PublishResult{}, err
	}
	if err := p.publishFile(ctx, dir, manifest.BuildID, staticgen.ManifestFile); err != nil {
		return PublishResult{}, err
	}

	p.logger.Info("storage: build published",
		zap.String("bucket", p.bucket),
		zap.String("build_id", manifest.BuildID),
		zap.Int("objects", len(pages)+1),
	)
	return PublishResult{BuildID: manifest.BuildID, Objects: len(pages) + 1}, nil
}

func (p *Publisher) each(ctx context.Context, items []string, fn func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, item := range items {
		g.Go(func() error { return fn(gctx, item) })
	}
	return g.Wait()
}

func (p *Publisher) publishFile(ctx context.Context, dir, buildID, rel string) error {
	staged, err := BuildObjectPath(PurposeBuild, PathParams{Prefix: p.prefix, BuildID: buildID, RelPath: rel})
	if err != nil {
		return err
	}
	live, err := BuildObjectPath(PurposeLive, PathParams{Prefix: p.prefix, RelPath: rel})
	if err != nil {
		return err
	}
	attrs := AttrsFor(rel)

	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("storage publisher: open %s: %w", rel, err)
	}
	defer f.Close()

	if err := p.store.Upload(ctx, p.bucket, staged, f, attrs); err != nil {
		return err
	}
	if err := p.store.CopyObject(ctx, p.bucket, staged, p.bucket, live, attrs); err != nil {
		return err
	}
	p.logger.Debug("storage: object published", zap.String("object", live))
	return nil
}

// AttrsFor returns the content type and cache policy of a build-relative file.
func AttrsFor(rel string) ObjectAttrs {
	contentType := mime.TypeByExtension(path.Ext(rel))
	if path.Ext(rel) == ".html" {
		contentType = "text/html; charset=utf-8"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	cacheControl := defaultCacheControl
	switch {
	case rel == staticgen.ManifestFile:
		cacheControl = manifestCacheControl
	case strings.HasSuffix(rel, ".html"):
		cacheControl = htmlCacheControl
	case strings.HasPrefix(rel, "assets/"):
		cacheControl = assetCacheControl
	}
	return ObjectAttrs{ContentType: contentType, CacheControl: cacheControl}
}

func buildFiles(dir string, manifest staticgen.Manifest) ([]string, error) {
	files := make([]string, 0, len(manifest.Routes))
	for _, rel := range manifest.Routes {
		files = append(files, rel)
	}
	sort.Strings(files)

	assets := filepath.Join(dir, "assets")
	err := filepath.WalkDir(assets, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage publisher: list %s: %w", assets, err)
	}
	return files, nil
}
