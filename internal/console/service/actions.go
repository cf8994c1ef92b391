package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// ActionReader читает аудит автономных действий.
type ActionReader interface {
	ListActions(ctx context.Context, organizationID string, limit int) ([]domain.AutoAction, error)
}

// ActionReverter откатывает примененное действие.
type ActionReverter interface {
	MarkReverted(ctx context.Context, actionID, reason string) error
}

// UsageReader — дневная квота автопубликаций организации.
type UsageReader interface {
	Usage(ctx context.Context, organizationID string) (domain.AutoPublishUsage, error)
}

type ActionService struct {
	reader   ActionReader
	reverter ActionReverter
	usage    UsageReader
}

func NewActionService(reader ActionReader, reverter ActionReverter, usage UsageReader) *ActionService {
	return &ActionService{
		reader:   reader,
		reverter: reverter,
		usage:    usage,
	}
}

// List возвращает действия организации вместе с текущим состоянием квоты.
func (s *ActionService) List(ctx context.Context, organizationID string, limit int) ([]domain.AutoAction, domain.AutoPublishUsage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	actions, err := s.reader.ListActions(ctx, organizationID, limit)
	if err != nil {
		return nil, domain.AutoPublishUsage{}, fmt.Errorf("action_service: failed to list actions: %w", err)
	}

	usage, err := s.usage.Usage(ctx, organizationID)
	if err != nil {
		return nil, domain.AutoPublishUsage{}, fmt.Errorf("action_service: failed to read usage: %w", err)
	}
	return actions, usage, nil
}

// Revert переводит действие в reverted с причиной оператора.
func (s *ActionService) Revert(ctx context.Context, actionID, reason string) error {
	if reason == "" {
		reason = "manual revert from console"
	}
	return s.reverter.MarkReverted(ctx, actionID, reason)
}
