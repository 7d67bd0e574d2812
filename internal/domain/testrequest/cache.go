package testrequest

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "test_request:"

func cacheKey(id int64) string {
	return cacheKeyPrefix + strconv.FormatInt(id, 10)
}

// requestCache fronts FindByID reads. Committed transitions overwrite the
// entry; read fills only add a missing one, so a slow read cannot replace a
// newer state. A nil *requestCache is a no-op, and cache failures are logged
// and otherwise ignored.
type requestCache struct {
	c   Cache
	ttl time.Duration
	log zerolog.Logger
}

func newRequestCache(c Cache, ttl time.Duration, log zerolog.Logger) *requestCache {
	if c == nil {
		return nil
	}
	return &requestCache{c: c, ttl: ttl, log: log}
}

func (rc *requestCache) get(ctx context.Context, id int64) (*TestRequest, bool) {
	if rc == nil {
		return nil, false
	}
	var tr TestRequest
	found, err := rc.c.GetJSON(ctx, cacheKey(id), &tr)
	if err != nil {
		rc.log.Warn().Err(err).Int64("request_id", id).Msg("cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &tr, true
}

// put stores the committed state of tr. When the write fails the entry is
// dropped so that readers fall back to the store.
func (rc *requestCache) put(ctx context.Context, tr *TestRequest) {
	if rc == nil {
		return
	}
	if err := rc.c.SetJSON(ctx, cacheKey(tr.ID), tr, rc.ttl); err != nil {
		rc.log.Warn().Err(err).Int64("request_id", tr.ID).Msg("cache write failed")
		rc.invalidate(ctx, tr.ID)
	}
}

// fill caches tr read from the store unless the key already holds a value.
func (rc *requestCache) fill(ctx context.Context, tr *TestRequest) {
	if rc == nil {
		return
	}
	if _, err := rc.c.SetJSONIfAbsent(ctx, cacheKey(tr.ID), tr, rc.ttl); err != nil {
		rc.log.Warn().Err(err).Int64("request_id", tr.ID).Msg("cache fill failed")
	}
}

func (rc *requestCache) invalidate(ctx context.Context, id int64) {
	if rc == nil {
		return
	}
	if err := rc.c.Delete(ctx, cacheKey(id)); err != nil {
		rc.log.Warn().Err(err).Int64("request_id", id).Msg("cache invalidate failed")
	}
}
