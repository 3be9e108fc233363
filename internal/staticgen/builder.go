package staticgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Builder pre-renders every enumerated post into a directory.
type Builder struct {
	gen         *Generator
	concurrency int
	assetsDir   string
	logger      *zap.Logger
	now         func() time.Time
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithConcurrency bounds how many posts are built at once.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithAssets copies dir into <out>/assets so the build is self-contained.
func WithAssets(dir string) BuilderOption {
	return func(b *Builder) {
		b.assetsDir = dir
	}
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuildClock overrides the build timestamp source.
func WithBuildClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder wires a Builder on top of gen.
func NewBuilder(gen *Generator, opts ...BuilderOption) *Builder {
	b := &Builder{
		gen:         gen,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build enumerates the posts, renders each one to outDir/post/<slug>/index.html and writes
// outDir/manifest.json. Posts build concurrently; the first failure cancels the rest and
// fails the build.
func (b *Builder) Build(ctx context.Context, outDir string) (Manifest, error) {
	started := b.now()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("staticgen: create %s: %w", outDir, err)
	}

	paths, err := b.gen.Paths(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("staticgen: enumerate paths: %w", err)
	}

	manifest := Manifest{
		BuildID:     ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String(),
		GeneratedAt: started.UTC(),
		Routes:      make(map[string]string, len(paths)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, p := range paths {
		slug := p.Params.Slug
		g.Go(func() error {
			if !ValidSlug(slug) {
				return fmt.Errorf("staticgen: slug %q is not a valid path segment", slug)
			}
			html, err := b.gen.Page(gctx, slug, ModeBuild)
			if err != nil {
				return fmt.Errorf("staticgen: build %q: %w", slug, err)
			}
			rel := HTMLPath(slug)
			if err := writeFile(filepath.Join(outDir, filepath.FromSlash(rel)), html); err != nil {
				return err
			}
			mu.Lock()
			manifest.Routes[RoutePath(slug)] = rel
			mu.Unlock()
			b.logger.Debug("staticgen: page built", zap.String("slug", slug), zap.Int("bytes", len(html)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	if b.assetsDir != "" {
		if err := copyTree(b.assetsDir, filepath.Join(outDir, "assets")); err != nil {
			return Manifest{}, err
		}
	}
	if err := writeManifest(outDir, manifest); err != nil {
		return Manifest{}, err
	}

	b.logger.Info("staticgen: build complete",
		zap.String("build_id", manifest.BuildID),
		zap.Int("pages", len(manifest.Routes)),
		zap.Duration("duration", b.now().Sub(started)),
	)
	return manifest, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("staticgen: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("staticgen: write %s: %w", path, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("staticgen: stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("staticgen: %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("staticgen: open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("staticgen: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("staticgen: copy %s: %w", src, err)
	}
	return out.Close()
}
