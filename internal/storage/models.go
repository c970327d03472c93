package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserStatus is the lifecycle state of a user
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a player, human or automated
type User struct {
	UID        string     `json:"uid"`
	Name       string     `json:"name"`
	Points     int64      `json:"points"`
	IsAI       bool       `json:"is_ai"`
	Status     UserStatus `json:"status"`
	TelegramID int64      `json:"-"` // 0 when not linked
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// UserMini is the public view of a user embedded in round responses
type UserMini struct {
	Name   string `json:"name"`
	IsAI   bool   `json:"is_ai"`
	Points int64  `json:"points"`
}

func (u *User) Mini() UserMini {
	return UserMini{Name: u.Name, IsAI: u.IsAI, Points: u.Points}
}

func (u *User) Deleted() bool {
	return u.Status == UserStatusDeleted
}

// Transaction represents a point movement
type Transaction struct {
	ID          int64     `json:"id"`
	UserUID     string    `json:"user_uid"`
	Amount      int64     `json:"amount"`      // can be negative
	SourceType  string    `json:"source_type"` // 'WELCOME_BONUS', 'STAKE', 'PAYOUT'
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	TxWelcomeBonus = "WELCOME_BONUS"
	TxStake        = "STAKE"
	TxPayout       = "PAYOUT"
)

// Choice is a predicted direction. The numeric values are the wire format.
type Choice int

const (
	ChoiceBearish Choice = 1
	ChoiceNeutral Choice = 2
	ChoiceBullish Choice = 3
)

func (c Choice) Valid() bool {
	return c >= ChoiceBearish && c <= ChoiceBullish
}

func (c Choice) String() string {
	switch c {
	case ChoiceBearish:
		return "BEARISH"
	case ChoiceNeutral:
		return "NEUTRAL"
	case ChoiceBullish:
		return "BULLISH"
	default:
		return fmt.Sprintf("Choice(%d)", int(c))
	}
}

// ParseChoice accepts the numeric wire value or a (short) name.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "bearish", "bear", "down":
		return ChoiceBearish, nil
	case "2", "neutral", "flat":
		return ChoiceNeutral, nil
	case "3", "bullish", "bull", "up":
		return ChoiceBullish, nil
	}
	return 0, fmt.Errorf("invalid choice %q", s)
}

// UnmarshalJSON accepts both 1..3 and "BULLISH"-style strings.
func (c *Choice) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*c = Choice(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid choice %s", string(b))
	}
	parsed, err := ParseChoice(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// PricePoint is a (timestamp, price) pair, serialized as [ts_ms, price].
type PricePoint struct {
	Time  time.Time
	Price decimal.Decimal
}

func (p PricePoint) MarshalJSON() ([]byte, error) {
	return []byte("[" + strconv.FormatInt(p.Time.UnixMilli(), 10) + "," + p.Price.String() + "]"), nil
}

func (p *PricePoint) UnmarshalJSON(b []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("price point needs 2 elements, got %d", len(raw))
	}
	ms, err := raw[0].Int64()
	if err != nil {
		return fmt.Errorf("invalid price point timestamp: %w", err)
	}
	price, err := decimal.NewFromString(raw[1].String())
	if err != nil {
		return fmt.Errorf("invalid price point price: %w", err)
	}
	p.Time = time.UnixMilli(ms).UTC()
	p.Price = price
	return nil
}

// ChartData is the display snapshot around a round. Not used in settlement math.
type ChartData struct {
	Before []PricePoint `json:"before"`
	After  []PricePoint `json:"after"`
}

// GameRound represents one hourly round
type GameRound struct {
	ID            int64               `json:"id"`
	StartAt       time.Time           `json:"start_at"`
	ClosedAt      time.Time           `json:"closed_at"`
	TargetAt      time.Time           `json:"target_at"`
	BasePrice     decimal.Decimal     `json:"base_price"`
	ResultPrice   decimal.NullDecimal `json:"result_price"`
	WinningChoice *Choice             `json:"winning_choice"`
	ChartData     ChartData           `json:"chart_data"`
	CreatedAt     time.Time           `json:"created_at"`
	SettledAt     *time.Time          `json:"settled_at,omitempty"`
}

func (r *GameRound) Settled() bool {
	return r.ResultPrice.Valid
}

// AcceptsAt reports whether predictions are accepted at now.
func (r *GameRound) AcceptsAt(now time.Time) bool {
	return !now.Before(r.StartAt) && now.Before(r.ClosedAt)
}

// Prediction represents one user's choice for one round
type Prediction struct {
	ID           int64     `json:"id"`
	UserUID      string    `json:"user_uid"`
	GameRoundID  int64     `json:"game_round_id"`
	Choice       Choice    `json:"choice"`
	IsWon        *bool     `json:"is_won"`
	EarnedPoints int64     `json:"earned_points"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoundPrediction is a prediction joined with its owner
type RoundPrediction struct {
	Prediction
	User User
}

// LeaderboardEntry is one ranked row of the leaderboard
type LeaderboardEntry struct {
	Rank        int64   `json:"rank"`
	UserUID     string  `json:"-"`
	Username    string  `json:"username"`
	Points      int64   `json:"points"`
	IsAI        bool    `json:"is_ai"`
	TotalRounds int64   `json:"total_rounds"`
	Wins        int64   `json:"wins"`
	WinRate     float64 `json:"win_rate"`
}

// PredictionHistoryItem is a user's prediction with its round outcome
type PredictionHistoryItem struct {
	Prediction
	StartAt       time.Time           `json:"start_at"`
	BasePrice     decimal.Decimal     `json:"base_price"`
	ResultPrice   decimal.NullDecimal `json:"result_price"`
	WinningChoice *Choice             `json:"winning_choice"`
}
