package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/apperr"
	cronrunner "kasouyosou/internal/cron"
	"kasouyosou/internal/logger"
)

// RoundWorker opens a round every hour and settles due rounds on a schedule.
type RoundWorker struct {
	rounds     *RoundService
	settlement *SettlementService
	runner     *cronrunner.Runner
	now        func() time.Time
	log        *zap.Logger
}

func NewRoundWorker(rounds *RoundService, settlement *SettlementService, runner *cronrunner.Runner, log *zap.Logger) *RoundWorker {
	return &RoundWorker{
		rounds:     rounds,
		settlement: settlement,
		runner:     runner,
		now:        time.Now,
		log:        logger.OrNop(log),
	}
}

// Schedule runs both jobs once, then registers them on the runner.
func (w *RoundWorker) Schedule(ctx context.Context, createSpec, settleSpec string) error {
	w.CreateRound(ctx)
	w.SettleRounds(ctx)

	if _, err := w.runner.Add(createSpec, w.CreateRound); err != nil {
		return fmt.Errorf("invalid create_round schedule %q: %w", createSpec, err)
	}
	if _, err := w.runner.Add(settleSpec, w.SettleRounds); err != nil {
		return fmt.Errorf("invalid settle_rounds schedule %q: %w", settleSpec, err)
	}
	w.log.Info("round_worker_scheduled", zap.String("create_round", createSpec), zap.String("settle_rounds", settleSpec))
	return nil
}

// CreateRound opens the current hour's round. An existing round is not an error.
func (w *RoundWorker) CreateRound(ctx context.Context) {
	_, err := w.rounds.Create(ctx, w.now())
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrConflict):
		w.log.Debug("round_worker_round_exists")
	default:
		w.log.Error("round_worker_create_failed", zap.Error(err))
	}
}

// SettleRounds settles every due round; failures are retried next tick.
func (w *RoundWorker) SettleRounds(ctx context.Context) {
	report, err := w.settlement.SettleDue(ctx, w.now())
	if err != nil {
		w.log.Error("round_worker_settle_failed", zap.Error(err))
		return
	}
	if len(report.Failed) > 0 {
		w.log.Warn("round_worker_settle_partial",
			zap.Int64s("settled", report.Settled),
			zap.Int("failed", len(report.Failed)))
	}
}
