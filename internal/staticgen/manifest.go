package staticgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ManifestFile is the name of the manifest written at the root of a build.
const ManifestFile = "manifest.json"

// ErrNoManifest is returned when a directory holds no build.
var ErrNoManifest = errors.New("staticgen: manifest not found")

// Manifest describes one build: its id and the HTML file of every route.
type Manifest struct {
	BuildID     string            `json:"buildId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Routes      map[string]string `json:"routes"`
}

// RoutePath is the URL path of the post with slug.
func RoutePath(slug string) string {
	return "/post/" + slug
}

// HTMLPath is the build-relative file of the post with slug.
func HTMLPath(slug string) string {
	return path.Join("post", slug, "index.html")
}

// SlugFromRoute extracts the slug of a post route.
func SlugFromRoute(route string) (string, bool) {
	slug, ok := strings.CutPrefix(route, "/post/")
	if !ok || slug == "" {
		return "", false
	}
	return slug, true
}

// ValidSlug reports whether slug can be used as a single path segment.
func ValidSlug(slug string) bool {
	if slug == "" || slug == "." || slug == ".." {
		return false
	}
	return !strings.ContainsAny(slug, "/\\\x00")
}

// ReadManifest loads dir/manifest.json.
func ReadManifest(dir string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, ErrNoManifest
		}
		return Manifest{}, fmt.Errorf("staticgen: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("staticgen: decode manifest: %w", err)
	}
	if m.Routes == nil {
		m.Routes = map[string]string{}
	}
	return m, nil
}

func writeManifest(dir string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("staticgen: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("staticgen: write manifest: %w", err)
	}
	return nil
}
