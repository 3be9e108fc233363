package storage

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// ObjectPurpose captures where in the bucket a published file goes.
type ObjectPurpose string

const (
	// PurposeBuild stages a file under the immutable folder of its build.
	PurposeBuild ObjectPurpose = "build"
	// PurposeLive is the object served to readers.
	PurposeLive ObjectPurpose = "live"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	Prefix  string
	BuildID string
	RelPath string
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeBuild: buildStagedPath,
		PurposeLive:  buildLivePath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

func buildStagedPath(params PathParams) (string, error) {
	buildID, err := validateSegment("buildID", params.BuildID)
	if err != nil {
		return "", err
	}
	rel, err := validateRelPath(params.RelPath)
	if err != nil {
		return "", err
	}
	return joinPrefix(params.Prefix, path.Join("builds", buildID, rel))
}

func buildLivePath(params PathParams) (string, error) {
	rel, err := validateRelPath(params.RelPath)
	if err != nil {
		return "", err
	}
	return joinPrefix(params.Prefix, rel)
}

func joinPrefix(prefix, key string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key, nil
	}
	for _, seg := range strings.Split(prefix, "/") {
		if _, err := validateSegment("prefix", seg); err != nil {
			return "", err
		}
	}
	return prefix + "/" + key, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

// validateRelPath accepts a slash separated path relative to the build root.
func validateRelPath(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: relPath is required")
	}
	if strings.Contains(value, "\\") || strings.HasPrefix(value, "/") {
		return "", fmt.Errorf("storage: relPath contains invalid path characters")
	}
	for _, seg := range strings.Split(value, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("storage: relPath contains invalid traversal sequence")
		}
	}
	return value, nil
}
