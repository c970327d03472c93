package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kasouyosou/internal/storage"
)

// Classify buckets the move from base to result. A move of exactly
// ±threshold counts as bearish/bullish.
func Classify(base, result, threshold decimal.Decimal) (storage.Choice, error) {
	if !base.IsPositive() {
		return 0, fmt.Errorf("base price must be positive, got %s", base)
	}
	if threshold.IsNegative() {
		return 0, fmt.Errorf("threshold must not be negative, got %s", threshold)
	}
	// (result-base)/base <= -t  <=>  result-base <= -t*base, for base > 0
	move := result.Sub(base)
	bound := threshold.Mul(base)
	switch {
	case move.LessThanOrEqual(bound.Neg()):
		return storage.ChoiceBearish, nil
	case move.GreaterThanOrEqual(bound):
		return storage.ChoiceBullish, nil
	default:
		return storage.ChoiceNeutral, nil
	}
}

// Outcome is the settlement result of one prediction.
type Outcome struct {
	PredictionID int64
	UserUID      string
	Won          bool
	Earned       int64
}

// Payout summarizes a distribution.
type Payout struct {
	Participants int
	Winners      int
	Pool         int64
	Share        int64
	Outcomes     []Outcome
}

// Distributed is the total paid to winners; Pool minus Distributed stays with the house.
func (p Payout) Distributed() int64 {
	return p.Share * int64(p.Winners)
}

// Distribute splits N*stake*multiplier evenly (floored) among predictions
// matching winning. With no winners nothing is paid.
func Distribute(predictions []storage.Prediction, winning storage.Choice, stake, multiplier int64) Payout {
	p := Payout{Participants: len(predictions)}
	if len(predictions) == 0 {
		return p
	}
	p.Pool = int64(len(predictions)) * stake * multiplier

	for _, pred := range predictions {
		if pred.Choice == winning {
			p.Winners++
		}
	}
	if p.Winners > 0 {
		p.Share = p.Pool / int64(p.Winners)
	}

	p.Outcomes = make([]Outcome, len(predictions))
	for i, pred := range predictions {
		o := Outcome{PredictionID: pred.ID, UserUID: pred.UserUID}
		if pred.Choice == winning {
			o.Won = true
			o.Earned = p.Share
		}
		p.Outcomes[i] = o
	}
	return p
}
