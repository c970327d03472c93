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

// PredictionService accepts and revises predictions on open rounds.
type PredictionService struct {
	store *storage.Store
	rules Rules
	log   *zap.Logger
}

func NewPredictionService(store *storage.Store, rules Rules, log *zap.Logger) *PredictionService {
	return &PredictionService{store: store, rules: rules, log: logger.OrNop(log)}
}

// SubmitResult is a stored prediction plus its owner.
type SubmitResult struct {
	Prediction storage.Prediction
	User       storage.UserMini
	// Created is false when an existing prediction's choice was replaced
	Created bool
}

// Submit records userUID's choice for roundID. The first submission pays the
// stake; later ones before closed_at only change the choice.
func (s *PredictionService) Submit(ctx context.Context, roundID int64, userUID string, choice storage.Choice, now time.Time) (*SubmitResult, error) {
	if !choice.Valid() {
		return nil, apperr.New(apperr.KindInvalid, fmt.Sprintf("invalid choice %d", int(choice)))
	}

	res, err := s.submit(ctx, roundID, userUID, choice, now)
	if errors.Is(err, storage.ErrDuplicate) {
		// a concurrent first submission won the insert; retry as an update
		res, err = s.submit(ctx, roundID, userUID, choice, now)
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to save prediction", err)
	}

	action := "prediction_updated"
	if res.Created {
		action = "prediction_created"
	}
	s.log.Info(action,
		zap.Int64("round_id", roundID),
		zap.String("user_uid", userUID),
		zap.Stringer("choice", choice))
	return res, nil
}

func (s *PredictionService) submit(ctx context.Context, roundID int64, userUID string, choice storage.Choice, now time.Time) (*SubmitResult, error) {
	var res SubmitResult
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		round, err := q.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if round == nil {
			return apperr.New(apperr.KindNotFound, fmt.Sprintf("round #%d does not exist", roundID))
		}

		user, err := q.GetUser(ctx, userUID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.New(apperr.KindNotFound, "user does not exist")
		}
		if user.Deleted() {
			return apperr.New(apperr.KindDeleted, "user has been deleted")
		}

		if !now.Before(round.ClosedAt) {
			return apperr.New(apperr.KindClosed, fmt.Sprintf("round #%d closed at %s", roundID, round.ClosedAt.Format(time.RFC3339)))
		}

		existing, err := q.GetPrediction(ctx, userUID, roundID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.IsWon != nil {
				return apperr.New(apperr.KindClosed, fmt.Sprintf("round #%d is already settled", roundID))
			}
			ok, err := q.UpdatePredictionChoice(ctx, existing.ID, choice, now)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.New(apperr.KindClosed, fmt.Sprintf("round #%d is already settled", roundID))
			}
			existing.Choice = choice
			existing.UpdatedAt = now.UTC()
			res = SubmitResult{Prediction: *existing, User: user.Mini()}
			return nil
		}

		if user.Points < s.rules.Stake {
			return apperr.New(apperr.KindInsufficientPoints,
				fmt.Sprintf("need %d points to predict, have %d", s.rules.Stake, user.Points))
		}
		ok, err := q.DebitPoints(ctx, userUID, s.rules.Stake, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindInsufficientPoints,
				fmt.Sprintf("need %d points to predict, have %d", s.rules.Stake, user.Points))
		}

		p := storage.Prediction{
			UserUID:     userUID,
			GameRoundID: roundID,
			Choice:      choice,
			CreatedAt:   now.UTC(),
			UpdatedAt:   now.UTC(),
		}
		if err := q.InsertPrediction(ctx, &p); err != nil {
			return err
		}
		desc := fmt.Sprintf("Stake for round #%d (%s)", roundID, choice)
		if err := q.InsertTransaction(ctx, userUID, -s.rules.Stake, storage.TxStake, desc, now); err != nil {
			return err
		}

		user.Points -= s.rules.Stake
		res = SubmitResult{Prediction: p, User: user.Mini(), Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
