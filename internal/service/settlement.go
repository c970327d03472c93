package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/storage"
)

// SettlementService resolves due rounds and pays their winners.
type SettlementService struct {
	store    *storage.Store
	resolver PriceResolver
	rules    Rules
	notifier Notifier
	log      *zap.Logger
}

func NewSettlementService(store *storage.Store, resolver PriceResolver, rules Rules, log *zap.Logger) *SettlementService {
	return &SettlementService{store: store, resolver: resolver, rules: rules, notifier: nopNotifier{}, log: logger.OrNop(log)}
}

// SetNotifier sets the notifier told about settled rounds
func (s *SettlementService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// RoundFailure records why one round could not be settled.
type RoundFailure struct {
	RoundID int64       `json:"round_id"`
	Kind    apperr.Kind `json:"kind"`
	Error   string      `json:"error"`
}

// SettleReport is the outcome of one SettleDue pass.
type SettleReport struct {
	Settled []int64        `json:"settled_ids"`
	Skipped []int64        `json:"skipped_ids"`
	Failed  []RoundFailure `json:"failed"`
}

// FindSettleable lists rounds past target_at that have no result yet.
func (s *SettlementService) FindSettleable(ctx context.Context, now time.Time) ([]storage.GameRound, error) {
	rounds, err := s.store.ListSettleableRounds(ctx, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list settleable rounds", err)
	}
	return rounds, nil
}

// SettleDue settles every due round independently. Only a failure to list
// the rounds is returned as an error; per-round failures go in the report.
func (s *SettlementService) SettleDue(ctx context.Context, now time.Time) (SettleReport, error) {
	report := SettleReport{Settled: []int64{}, Skipped: []int64{}, Failed: []RoundFailure{}}

	rounds, err := s.FindSettleable(ctx, now)
	if err != nil {
		return report, err
	}

	for i := range rounds {
		round := &rounds[i]
		settled, err := s.SettleRound(ctx, round, now)
		switch {
		case err != nil:
			kind := apperr.KindOf(err)
			if kind == "" {
				kind = apperr.KindPersistence
			}
			report.Failed = append(report.Failed, RoundFailure{RoundID: round.ID, Kind: kind, Error: apperr.MessageOf(err)})
			s.log.Error("settlement_round_failed", zap.Int64("round_id", round.ID), zap.Error(err))
		case settled:
			report.Settled = append(report.Settled, round.ID)
		default:
			report.Skipped = append(report.Skipped, round.ID)
			s.log.Info("settlement_round_skipped", zap.Int64("round_id", round.ID))
		}
	}

	if len(rounds) > 0 {
		s.log.Info("settlement_completed",
			zap.Int("settled", len(report.Settled)),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("failed", len(report.Failed)))
	}
	return report, nil
}

// SettleRound resolves and pays one round in a single transaction. It
// returns false without error when the round already has a result.
func (s *SettlementService) SettleRound(ctx context.Context, round *storage.GameRound, now time.Time) (bool, error) {
	if round.Settled() {
		return false, nil
	}

	// network first; no transaction is open while the feed is queried
	res, err := s.resolver.Resolve(ctx, round)
	if err != nil {
		return false, err
	}
	winning, err := Classify(round.BasePrice, res.Price, s.rules.Threshold)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInvalid, fmt.Sprintf("cannot classify round #%d", round.ID), err)
	}
	chart := storage.ChartData{Before: round.ChartData.Before, After: res.After}

	var (
		applied bool
		payout  Payout
		preds   []storage.RoundPrediction
	)
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		ok, err := q.SettleRoundResult(ctx, round.ID, res.Price, winning, chart, now)
		if err != nil || !ok {
			return err
		}

		preds, err = q.ListRoundPredictions(ctx, round.ID)
		if err != nil {
			return err
		}
		plain := make([]storage.Prediction, len(preds))
		for i, p := range preds {
			plain[i] = p.Prediction
		}
		payout = Distribute(plain, winning, s.rules.Stake, s.rules.BonusMultiplier)

		for _, o := range payout.Outcomes {
			ok, err := q.SetPredictionResult(ctx, o.PredictionID, o.Won, o.Earned, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("prediction %d already has a result", o.PredictionID)
			}
			if o.Earned == 0 {
				continue
			}
			if err := q.CreditPoints(ctx, o.UserUID, o.Earned, now); err != nil {
				return err
			}
			desc := fmt.Sprintf("Payout for round #%d (%s, pool %d, %d winners)", round.ID, winning, payout.Pool, payout.Winners)
			if err := q.InsertTransaction(ctx, o.UserUID, o.Earned, storage.TxPayout, desc, now); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return false, err
		}
		return false, apperr.Wrap(apperr.KindPersistence, fmt.Sprintf("failed to settle round #%d", round.ID), err)
	}
	if !applied {
		return false, nil
	}

	s.log.Info("round_settled",
		zap.Int64("round_id", round.ID),
		zap.String("base_price", round.BasePrice.String()),
		zap.String("result_price", res.Price.String()),
		zap.Stringer("winning_choice", winning),
		zap.Int("participants", payout.Participants),
		zap.Int("winners", payout.Winners),
		zap.Int64("pool", payout.Pool),
		zap.Int64("share", payout.Share))

	settledAt := now.UTC()
	w := winning
	round.ResultPrice.Decimal = res.Price
	round.ResultPrice.Valid = true
	round.WinningChoice = &w
	round.ChartData = chart
	round.SettledAt = &settledAt
	for i := range preds {
		o := payout.Outcomes[i]
		won := o.Won
		preds[i].IsWon = &won
		preds[i].EarnedPoints = o.Earned
		if won {
			preds[i].User.Points += o.Earned
		}
	}
	s.notifier.RoundSettled(ctx, SettledRound{Round: round, Payout: payout, Predictions: preds})
	return true, nil
}
