package service

import (
	"context"
	"sync/atomic"

	"fieldsync/internal/models"
)

// SequenceTicketer hands out monotonically increasing ticket ids when no
// external ticketing platform is configured.
type SequenceTicketer struct {
	last atomic.Int64
}

func NewSequenceTicketer(seed int64) *SequenceTicketer {
	t := &SequenceTicketer{}
	t.last.Store(seed)
	return t
}

func (t *SequenceTicketer) OpenTicket(_ context.Context, _ *models.Act) (int64, error) {
	return t.last.Add(1), nil
}
