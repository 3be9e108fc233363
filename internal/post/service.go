package post

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/prismic"
)

const (
	defaultPageSize = 100
	maxPages        = 1000
)

// Repository is the subset of the content API client used by Service.
type Repository interface {
	Query(ctx context.Context, predicates []prismic.Predicate, opts prismic.QueryOptions) (prismic.Response, error)
	GetByUID(ctx context.Context, docType, uid string, opts prismic.QueryOptions) (prismic.Document, error)
}

// Service enumerates and loads posts from the content API.
type Service struct {
	repo      Repository
	docType   string
	pageSize  int
	orderings []string
	logger    *zap.Logger
}

// ServiceOption customises Service construction.
type ServiceOption func(*Service)

// WithDocumentType overrides the custom type queried for posts.
func WithDocumentType(docType string) ServiceOption {
	return func(s *Service) {
		if docType = strings.TrimSpace(docType); docType != "" {
			s.docType = docType
		}
	}
}

// WithPageSize sets the page size used while enumerating paths.
func WithPageSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithOrderings sets the orderings sent while enumerating paths.
func WithOrderings(orderings ...string) ServiceOption {
	return func(s *Service) {
		s.orderings = append([]string(nil), orderings...)
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires a Service on top of repo.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		docType:  DefaultDocumentType,
		pageSize: defaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithRepository returns a copy of the service reading from repo, e.g. a preview-bound client.
func (s *Service) WithRepository(repo Repository) *Service {
	if repo == nil {
		return s
	}
	clone := *s
	clone.repo = repo
	return &clone
}

// Paths lists one path per distinct uid of the post type, in API order. Every result page is
// read.
func (s *Service) Paths(ctx context.Context) ([]Path, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("post: service not configured")
	}

	predicates := []prismic.Predicate{prismic.DocumentType(s.docType)}
	seen := make(map[string]struct{})
	paths := make([]Path, 0)

	for page := 1; page <= maxPages; page++ {
		resp, err := s.repo.Query(ctx, predicates, prismic.QueryOptions{
			Page:      page,
			PageSize:  s.pageSize,
			Orderings: s.orderings,
		})
		if err != nil {
			return nil, fmt.Errorf("post: list %s page %d: %w", s.docType, page, err)
		}
		for _, doc := range resp.Results {
			if doc.UID == "" {
				continue
			}
			if _, dup := seen[doc.UID]; dup {
				continue
			}
			seen[doc.UID] = struct{}{}
			paths = append(paths, Path{Params: Params{Slug: doc.UID}})
		}
		if len(resp.Results) == 0 || page >= resp.TotalPages {
			break
		}
	}

	s.logger.Debug("post: paths enumerated", zap.String("type", s.docType), zap.Int("count", len(paths)))
	return paths, nil
}

// Get loads the post for slug. A slug unknown to the API yields an error matching ErrNotFound;
// any other failure is returned as is.
func (s *Service) Get(ctx context.Context, slug string) (Post, error) {
	if s == nil || s.repo == nil {
		return Post{}, errors.New("post: service not configured")
	}
	if slug == "" {
		return Post{}, fmt.Errorf("%w: empty slug", ErrNotFound)
	}

	doc, err := s.repo.GetByUID(ctx, s.docType, slug, prismic.QueryOptions{})
	if err != nil {
		if errors.Is(err, prismic.ErrNotFound) {
			return Post{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return Post{}, fmt.Errorf("post: fetch %q: %w", slug, err)
	}
	return Normalize(doc)
}
