package testrequest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// workflow holds what every status-changing service needs: the stores, the
// transaction boundary, the read cache to refresh and a clock.
type workflow struct {
	repo  Repository
	flows FlowRepository
	tx    Transactor
	cache *requestCache
	log   zerolog.Logger
	now   func() time.Time
}

func newWorkflow(repo Repository, flows FlowRepository, tx Transactor, log zerolog.Logger) *workflow {
	if tx == nil {
		tx = directTx{}
	}
	return &workflow{repo: repo, flows: flows, tx: tx, log: log, now: time.Now}
}

// SetCache attaches the read cache that is refreshed with each committed
// change.
func (w *workflow) SetCache(c Cache, ttl time.Duration) {
	w.cache = newRequestCache(c, ttl, w.log)
}

func checkActor(role string, actor Actor) error {
	if actor.ID == "" {
		return invalid(role, "must not be empty")
	}
	return nil
}

// apply runs op against request id in one transaction: load, check, mutate,
// save with the version guard and append the flow row. Nothing is written if
// any step fails. The committed state replaces the cached entry.
func (w *workflow) apply(ctx context.Context, id int64, actor Actor, op Operation,
	validate func() error, mutate func(tr *TestRequest, now time.Time)) (*TestRequest, error) {
	if id <= 0 {
		return nil, notFound(id)
	}

	var (
		out  *TestRequest
		from RequestStatus
	)
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		tr, err := w.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !tr.Consistent() {
			return fmt.Errorf("test request %d in %s: %w", id, tr.Status, ErrInconsistentState)
		}
		if validate != nil {
			if err := validate(); err != nil {
				return err
			}
		}
		next, err := Next(tr.Status, op)
		if err != nil {
			return err
		}

		now := w.now()
		from = tr.Status
		mutate(tr, now)
		tr.Status = next

		if err := w.repo.Save(ctx, tr); err != nil {
			return err
		}
		if err := w.flows.Create(ctx, &RequestFlow{
			RequestID:   tr.ID,
			FromStatus:  from,
			ToStatus:    next,
			ChangedByID: actor.ID,
			HappenedOn:  now,
		}); err != nil {
			return fmt.Errorf("record flow for test request %d: %w", id, err)
		}
		out = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.cache.put(ctx, out)
	w.log.Info().
		Int64("request_id", id).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Str("actor", actor.ID).
		Msg("test request transitioned")
	return out, nil
}
