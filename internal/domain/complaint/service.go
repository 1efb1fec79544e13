package complaint

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
	cacheGenKey  = "complaints:gen"
	listCacheKey = "complaints:list"
)

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
		logger: logger.With().Str("component", "complaint").Logger(),
	}
}

// WithCache enables the list cache.
func (s *Service) WithCache(store cache.Store, ttl time.Duration) *Service {
	s.cache = store
	s.cacheTTL = ttl
	return s
}

// WithEvents publishes an event after every committed write.
func (s *Service) WithEvents(p notification.Publisher) *Service {
	s.events = p
	return s
}

// List returns all complaints, newest id first.
func (s *Service) List(ctx context.Context) ([]*Complaint, error) {
	var items []*Complaint
	// The generation is read first so a write committing during the store
	// read moves later readers past whatever this call fills.
	key, err := cache.VersionedKey(ctx, s.cache, cacheGenKey, listCacheKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read cache generation")
		return s.list(ctx)
	}
	err = cache.GetJSON(ctx, s.cache, key, &items)
	if err == nil {
		return items, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Msg("read list cache")
	}

	items, err = s.list(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, items, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("fill list cache")
	}
	return items, nil
}

func (s *Service) list(ctx context.Context) ([]*Complaint, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.storeError(err, "list complaints", 0)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Complaint, error) {
	if id <= 0 {
		return nil, apperr.Validation("Invalid complaint_id")
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "get complaint", id)
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, cmd *CreateComplaint) (*Complaint, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	var created *Complaint
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.repo.Create(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, s.storeError(err, "create complaint", 0)
	}
	s.committed(ctx, notification.ComplaintCreated, created.ID)
	return created, nil
}

// Update applies the supplied fields and keeps the rest.
func (s *Service) Update(ctx context.Context, cmd *UpdateComplaint) (*Complaint, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	var updated *Complaint
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.Update(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, s.storeError(err, "update complaint", cmd.ID)
	}
	s.committed(ctx, notification.ComplaintUpdated, updated.ID)
	return updated, nil
}

// Delete removes a complaint and returns the removed row.
func (s *Service) Delete(ctx context.Context, id int64) (*Complaint, error) {
	if id <= 0 {
		return nil, apperr.Validation("Invalid complaint_id")
	}
	var deleted *Complaint
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.repo.Delete(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.storeError(err, "delete complaint", id)
	}
	s.committed(ctx, notification.ComplaintDeleted, id)
	return deleted, nil
}

// committed retires the list cache and publishes the change. Neither can
// fail the request.
func (s *Service) committed(ctx context.Context, event string, id int64) {
	if _, err := s.cache.Bump(ctx, cacheGenKey); err != nil {
		s.logger.Warn().Err(err).Int64("complaint_id", id).Msg("invalidate list cache")
	}
	if err := s.events.Publish(ctx, notification.StreamComplaints, notification.NewEvent(event, id)); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Int64("complaint_id", id).Msg("publish event")
	}
}

func (s *Service) storeError(err error, op string, id int64) error {
	classified := apperr.FromStore(err)
	if apperr.KindOf(classified) == apperr.KindInternal {
		evt := s.logger.Error().Err(err).Str("op", op)
		if id > 0 {
			evt = evt.Int64("complaint_id", id)
		}
		evt.Msg("store failure")
	}
	return classified
}
