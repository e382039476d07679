package subscribers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/records"
)

// Service manages who receives notifications. Subscribers are never deleted,
// only deactivated.
type Service struct {
	store  *records.Store
	logger *zap.Logger
}

// NewService wires the subscriber registry.
func NewService(store *records.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Subscribe registers identity, or reactivates it. The bool reports whether
// anything changed.
func (s *Service) Subscribe(ctx context.Context, identity, name string) (models.Subscriber, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return models.Subscriber{}, false, models.Invalid("subscriber identity must not be empty")
	}

	var (
		out     models.Subscriber
		changed bool
	)
	err := s.store.Mutate(func() error {
		existing, found, err := s.find(ctx, identity)
		if err != nil {
			return err
		}
		if found {
			out = existing
			if existing.Active {
				return nil
			}
			if err := s.store.SetSubscriberActive(ctx, existing, true); err != nil {
				return err
			}
			out.Active, changed = true, true
			return nil
		}

		out = models.Subscriber{Identity: identity, Name: name, Role: models.DefaultSubscriberRole, Active: true}
		if err := s.store.AppendSubscriber(ctx, out); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return models.Subscriber{}, false, err
	}

	if changed {
		s.logger.Info("subscriber activated", zap.String("identity", identity), zap.String("name", name))
	}
	return out, changed, nil
}

// Unsubscribe deactivates identity.
func (s *Service) Unsubscribe(ctx context.Context, identity string) error {
	return s.store.Mutate(func() error {
		existing, found, err := s.find(ctx, identity)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("subscriber %s: %w", identity, models.ErrNotFound)
		}
		if !existing.Active {
			return nil
		}
		if err := s.store.SetSubscriberActive(ctx, existing, false); err != nil {
			return err
		}
		s.logger.Info("subscriber deactivated", zap.String("identity", identity))
		return nil
	})
}

// Active lists the subscribers that receive notifications.
func (s *Service) Active(ctx context.Context) ([]models.Subscriber, error) {
	return s.store.ActiveSubscribers(ctx)
}

func (s *Service) find(ctx context.Context, identity string) (models.Subscriber, bool, error) {
	all, err := s.store.Subscribers(ctx)
	if err != nil {
		return models.Subscriber{}, false, err
	}
	for _, sub := range all {
		if sub.Identity == identity {
			return sub, true, nil
		}
	}
	return models.Subscriber{}, false, nil
}
