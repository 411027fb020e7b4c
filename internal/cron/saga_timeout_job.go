package cron

import (
	"context"
	"fmt"

	"github.com/mealmesh/ordering-backend/pkg/logger"
)

const sagaTimeoutSweepLimit = 100

type sagaExpirer interface {
	ExpireAwaitingReplies(ctx context.Context, limit int) (int, error)
}

// SagaTimeoutJobParams configure the courier-reply timeout sweep.
type SagaTimeoutJobParams struct {
	Logger       *logger.Logger
	Orchestrator sagaExpirer
	SweepLimit   int
}

// NewSagaTimeoutJob fails sagas stuck in AWAITING_REPLY past their deadline.
func NewSagaTimeoutJob(params SagaTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	limit := params.SweepLimit
	if limit <= 0 {
		limit = sagaTimeoutSweepLimit
	}
	return &sagaTimeoutJob{
		logg:         params.Logger,
		orchestrator: params.Orchestrator,
		limit:        limit,
	}, nil
}

type sagaTimeoutJob struct {
	logg         *logger.Logger
	orchestrator sagaExpirer
	limit        int
}

func (j *sagaTimeoutJob) Name() string { return "saga-reply-timeout" }

func (j *sagaTimeoutJob) Run(ctx context.Context) error {
	expired, err := j.orchestrator.ExpireAwaitingReplies(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("saga timeout sweep: %w", err)
	}
	if expired > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "expired", expired), "sagas failed on courier reply timeout")
	}
	return nil
}
