package testrequest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// QueryService serves read-only lookups.
type QueryService struct {
	repo  Repository
	flows FlowRepository
	cache *requestCache
	log   zerolog.Logger
}

// NewQueryService creates a QueryService without a cache; see SetCache.
func NewQueryService(repo Repository, flows FlowRepository, log zerolog.Logger) *QueryService {
	return &QueryService{repo: repo, flows: flows, log: log.With().Str("service", "query").Logger()}
}

// SetCache enables read-through caching of FindByID.
func (s *QueryService) SetCache(c Cache, ttl time.Duration) {
	s.cache = newRequestCache(c, ttl, s.log)
}

// FindByStatus returns every request in status, ordered by id.
func (s *QueryService) FindByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error) {
	if !status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown value %q", status))
	}
	return s.repo.FindByStatus(ctx, status)
}

// FindByID returns request id, from the cache when it holds the entry.
func (s *QueryService) FindByID(ctx context.Context, id int64) (*TestRequest, error) {
	if id <= 0 {
		return nil, notFound(id)
	}
	if tr, ok := s.cache.get(ctx, id); ok {
		return tr, nil
	}
	tr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.fill(ctx, tr)
	return tr, nil
}

// FindByTester returns the requests whose lab result belongs to testerID.
func (s *QueryService) FindByTester(ctx context.Context, testerID string) ([]*TestRequest, error) {
	if testerID == "" {
		return nil, invalid("tester", "must not be empty")
	}
	return s.repo.FindByTester(ctx, testerID)
}

// FindByDoctor returns the requests whose consultation belongs to doctorID.
func (s *QueryService) FindByDoctor(ctx context.Context, doctorID string) ([]*TestRequest, error) {
	if doctorID == "" {
		return nil, invalid("doctor", "must not be empty")
	}
	return s.repo.FindByDoctor(ctx, doctorID)
}

// FindByCreator returns the requests created by userID.
func (s *QueryService) FindByCreator(ctx context.Context, userID string) ([]*TestRequest, error) {
	if userID == "" {
		return nil, invalid("user", "must not be empty")
	}
	return s.repo.FindByCreator(ctx, userID)
}

// FlowOf returns the recorded transitions of request id, oldest first.
func (s *QueryService) FlowOf(ctx context.Context, id int64) ([]*RequestFlow, error) {
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.flows.ListByRequest(ctx, id)
}
