package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
	"github.com/hospadmin/hospadmin/internal/platform/cache"
	"github.com/hospadmin/hospadmin/internal/platform/db"
	"github.com/hospadmin/hospadmin/internal/platform/notification"
)

const (
	cacheGenKey     = "feedback:gen"
	listCacheKey    = "feedback:list"
	summaryCacheKey = "feedback:summary"
)

// Service owns the feedback aggregate. Every write touches the parent and
// its module ratings inside one transaction, and all input is validated
// before the transaction opens.
type Service struct {
	repo     Repository
	tx       db.Transactor
	cache    cache.Store
	cacheTTL time.Duration
	events   notification.Publisher
	logger   zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		cache:  cache.Noop{},
		events: notification.Noop{},
		logger: logger.With().Str("component", "feedback").Logger(),
	}
}

// WithCache enables the list and summary caches.
func (s *Service) WithCache(store cache.Store, ttl time.Duration) *Service {
	s.cache = store
	s.cacheTTL = ttl
	return s
}

func (s *Service) WithEvents(p notification.Publisher) *Service {
	s.events = p
	return s
}

// List returns every feedback with its module ratings, newest first.
func (s *Service) List(ctx context.Context) ([]*Feedback, error) {
	var items []*Feedback
	key, ok := s.cacheKey(ctx, listCacheKey)
	if ok && s.cached(ctx, key, &items) {
		return items, nil
	}
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.storeError(err, "list feedback", 0)
	}
	if ok {
		s.fill(ctx, key, items)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Feedback, error) {
	if id <= 0 {
		return nil, apperr.Validation("Invalid feedback_id")
	}
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "get feedback", id)
	}
	return f, nil
}

// Summary returns the overall and per-module rating averages.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary
	key, ok := s.cacheKey(ctx, summaryCacheKey)
	if ok && s.cached(ctx, key, &sum) {
		return &sum, nil
	}
	out, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, s.storeError(err, "summarize feedback", 0)
	}
	if ok {
		s.fill(ctx, key, out)
	}
	return out, nil
}

// Create inserts the parent and all of its module ratings, or nothing.
func (s *Service) Create(ctx context.Context, cmd *CreateFeedback) (*Feedback, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	var created *Feedback
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		f, err := s.repo.Insert(ctx, cmd)
		if err != nil {
			return err
		}
		f.ModuleRatings, err = s.repo.InsertModuleRatings(ctx, f.ID, cmd.ModuleRatings)
		if err != nil {
			return err
		}
		created = f
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "create feedback", 0)
	}
	s.committed(ctx, notification.FeedbackCreated, created.ID)
	return created, nil
}

// Update coalesces the parent fields and, when a module ratings set is
// supplied, replaces the stored set with it. Omitted ratings stay as they
// are.
func (s *Service) Update(ctx context.Context, cmd *UpdateFeedback) (*Feedback, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	var updated *Feedback
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.Lock(ctx, cmd.ID); err != nil {
			return err
		}
		f, err := s.repo.Update(ctx, cmd)
		if err != nil {
			return err
		}
		if cmd.ModuleRatings != nil {
			if _, err := s.repo.DeleteModuleRatings(ctx, cmd.ID); err != nil {
				return err
			}
			f.ModuleRatings, err = s.repo.InsertModuleRatings(ctx, cmd.ID, cmd.ModuleRatings)
		} else {
			f.ModuleRatings, err = s.repo.ListModuleRatings(ctx, cmd.ID)
		}
		if err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "update feedback", cmd.ID)
	}
	s.committed(ctx, notification.FeedbackUpdated, updated.ID)
	return updated, nil
}

// Delete removes the feedback and its module ratings.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperr.Validation("Invalid feedback_id")
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.Lock(ctx, id); err != nil {
			return err
		}
		if _, err := s.repo.DeleteModuleRatings(ctx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return s.storeError(err, "delete feedback", id)
	}
	s.committed(ctx, notification.FeedbackDeleted, id)
	return nil
}

// cacheKey resolves the generation for key before the store is read. When the
// generation cannot be read the cache is bypassed for this call.
func (s *Service) cacheKey(ctx context.Context, key string) (string, bool) {
	versioned, err := cache.VersionedKey(ctx, s.cache, cacheGenKey, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("read cache generation")
		return "", false
	}
	return versioned, true
}

func (s *Service) cached(ctx context.Context, key string, dst interface{}) bool {
	err := cache.GetJSON(ctx, s.cache, key, dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("key", key).Msg("read cache")
	}
	return false
}

func (s *Service) fill(ctx context.Context, key string, v interface{}) {
	if err := cache.SetJSON(ctx, s.cache, key, v, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("fill cache")
	}
}

// committed retires the cached reads and publishes the change. Neither can
// fail the request.
func (s *Service) committed(ctx context.Context, event string, id int64) {
	if _, err := s.cache.Bump(ctx, cacheGenKey); err != nil {
		s.logger.Warn().Err(err).Int64("feedback_id", id).Msg("invalidate cache")
	}
	if err := s.events.Publish(ctx, notification.StreamFeedback, notification.NewEvent(event, id)); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Int64("feedback_id", id).Msg("publish event")
	}
}

func (s *Service) storeError(err error, op string, id int64) error {
	classified := apperr.FromStore(err)
	if apperr.KindOf(classified) == apperr.KindInternal {
		evt := s.logger.Error().Err(err).Str("op", op)
		if id > 0 {
			evt = evt.Int64("feedback_id", id)
		}
		evt.Msg("store failure")
	}
	return classified
}
