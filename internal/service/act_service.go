package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

const maxActPullLimit = 500

type ActService struct {
	repo     domain.ActRepository
	ticketer domain.Ticketer
	logger   *zerolog.Logger
	// submit is serialized so two retries of one act cannot both open a ticket.
	mu sync.Mutex
}

func NewActService(repo domain.ActRepository, ticketer domain.Ticketer, logger *zerolog.Logger) *ActService {
	return &ActService{repo: repo, ticketer: ticketer, logger: logger}
}

// Submit stores an act pushed by a device and returns its ticket id.
// Submitting the same act id again returns the ticket opened the first time.
func (s *ActService) Submit(ctx context.Context, act *models.Act) (int64, error) {
	if act.ID == "" {
		return 0, fmt.Errorf("act id is required: %w", models.ErrInvalidRecord)
	}
	if !models.ValidActType(act.Type) {
		return 0, fmt.Errorf("act type %q: %w", act.Type, models.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetAct(ctx, act.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return 0, err
	}

	stored := *act
	stored.Status = models.ActStatusSynced
	stored.SyncError = ""
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	if existing != nil && existing.GLPITicketID != nil {
		stored.GLPITicketID = existing.GLPITicketID
		if err := s.repo.UpsertAct(ctx, &stored); err != nil {
			return 0, err
		}
		s.logger.Debug().Str("act_id", act.ID).Int64("ticket_id", *existing.GLPITicketID).Msg("Act resubmitted, reusing ticket")
		return *existing.GLPITicketID, nil
	}

	ticketID, err := s.ticketer.OpenTicket(ctx, &stored)
	if err != nil {
		return 0, fmt.Errorf("open ticket: %w", err)
	}
	stored.GLPITicketID = &ticketID
	if err := s.repo.UpsertAct(ctx, &stored); err != nil {
		return 0, err
	}

	s.logger.Info().Str("act_id", act.ID).Int64("ticket_id", ticketID).Str("client", act.ClientName).Msg("Act accepted")
	return ticketID, nil
}

// Recent returns the most recently updated acts.
func (s *ActService) Recent(ctx context.Context, limit int) ([]*models.Act, error) {
	if limit <= 0 {
		limit = models.DefaultPullLimit
	}
	if limit > maxActPullLimit {
		limit = maxActPullLimit
	}
	return s.repo.ListRecentActs(ctx, limit)
}
