package fraud

import (
	"context"
	"time"

	"github.com/adkarma/adkarma/internal/logging"
)

// Service handles admin flag resolution and listing.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Store() Store { return s.store }

func (s *Service) Get(ctx context.Context, id string) (*Flag, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status, limit int, afterID string) ([]*Flag, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, status, limit, afterID)
}

// Resolve transitions a flag. INVESTIGATING keeps it open; CONFIRMED and
// DISMISSED are terminal and stamp the resolver. Re-resolving a terminal
// flag fails with ErrAlreadyProcessed.
func (s *Service) Resolve(ctx context.Context, id string, status Status, note, resolver string) (*Flag, error) {
	switch status {
	case StatusInvestigating, StatusConfirmed, StatusDismissed:
	default:
		return nil, ErrInvalidStatus
	}
	f, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Status.IsTerminal() {
		return nil, ErrAlreadyProcessed
	}
	now := time.Now().UTC()
	f.Status = status
	f.UpdatedAt = now
	if note != "" {
		f.ResolutionNote = note
	}
	if status.IsTerminal() {
		f.ResolvedBy = resolver
		f.ResolvedAt = &now
	}
	if err := s.store.Update(ctx, f); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("fraud flag resolved",
		"flag_id", f.ID, "status", string(status), "resolver", resolver)
	return f, nil
}
