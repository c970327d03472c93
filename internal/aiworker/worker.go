package aiworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/config"
	"kasouyosou/internal/features"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/predictor"
	"kasouyosou/internal/pricefeed"
	"kasouyosou/internal/storage"
)

// ErrNoActiveRound is returned by Run when no round accepts predictions.
var ErrNoActiveRound = errors.New("no active round")

// Options configure a Worker.
type Options struct {
	Symbol    string
	Timeframe string
	ModelDir  string
	Lookback  time.Duration
	Users     []config.AIUser
	DryRun    bool
}

type Worker struct {
	api      API
	feed     pricefeed.Feed
	calendar *features.Calendar
	opts     Options
	log      *zap.Logger
}

func New(api API, feed pricefeed.Feed, opts Options, log *zap.Logger) *Worker {
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * time.Hour
	}
	return &Worker{
		api:      api,
		feed:     feed,
		calendar: features.NewUSCalendar(),
		opts:     opts,
		log:      logger.OrNop(log),
	}
}

// Run predicts for every configured user on the active round. A user's
// failure is recorded in the report and does not stop the others; only
// failures shared by every user are returned as an error.
func (w *Worker) Run(ctx context.Context) (*Report, error) {
	round, err := w.api.ActiveRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active round: %w", err)
	}
	if round == nil {
		return nil, ErrNoActiveRound
	}
	start := round.StartAt.UTC()

	x, err := w.featureRow(ctx, start)
	if err != nil {
		return nil, err
	}

	report := &Report{RoundID: round.ID, StartAt: start, DryRun: w.opts.DryRun}
	for _, u := range w.opts.Users {
		res := w.predictFor(ctx, round.ID, u, x)
		report.Results = append(report.Results, res)
	}

	w.log.Info("ai_worker_completed",
		zap.Int64("round_id", round.ID),
		zap.Int("users", len(report.Results)),
		zap.Int("failed", report.Failed()),
		zap.Bool("dry_run", w.opts.DryRun))
	return report, nil
}

func (w *Worker) featureRow(ctx context.Context, start time.Time) ([]float64, error) {
	step, err := pricefeed.TimeframeDuration(w.opts.Timeframe)
	if err != nil {
		return nil, err
	}
	limit := int(w.opts.Lookback/step) + 1
	candles, err := w.feed.FetchOHLCV(ctx, w.opts.Symbol, w.opts.Timeframe, start.Add(-w.opts.Lookback), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	frame := features.BuildWithCalendar(candles, w.calendar)
	row, ok := frame.At(start)
	if !ok {
		return nil, fmt.Errorf("no candle at round start %s", start.Format(time.RFC3339))
	}
	return row.Vector(features.ModelColumns)
}

func (w *Worker) predictFor(ctx context.Context, roundID int64, u config.AIUser, x []float64) Result {
	res := Result{UserUID: u.UID, Model: u.Model, Scaler: u.Scaler}
	fail := func(stage string, err error) Result {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("%s: %v", stage, err)
		w.log.Warn("ai_worker_user_failed",
			zap.String("user_uid", u.UID),
			zap.String("model", u.Model),
			zap.String("stage", stage),
			zap.Error(err))
		return res
	}

	model, err := predictor.LoadModel(w.opts.ModelDir, u.Model)
	if err != nil {
		return fail("load model", err)
	}
	var scaler predictor.Scaler
	if u.Scaler != "" {
		if scaler, err = predictor.LoadScaler(w.opts.ModelDir, u.Scaler); err != nil {
			return fail("load scaler", err)
		}
	}
	choice, err := predictor.Predict(model, scaler, x)
	if err != nil {
		return fail("predict", err)
	}
	res.Choice = choice

	if w.opts.DryRun {
		res.Status = StatusDryRun
		return res
	}
	sub, err := w.api.SubmitPrediction(ctx, roundID, u.UID, choice)
	if err != nil {
		return fail("submit", err)
	}
	res.Status = StatusSubmitted
	res.Points = sub.User.Points
	w.log.Info("ai_prediction_submitted",
		zap.Int64("round_id", roundID),
		zap.String("user", sub.User.Name),
		zap.Stringer("choice", choice))
	return res
}

// Result is the outcome for one automated user.
type Result struct {
	UserUID string
	Model   string
	Scaler  string
	Choice  storage.Choice
	Status  string
	Points  int64
	Error   string
}

const (
	StatusSubmitted = "submitted"
	StatusDryRun    = "dry-run"
	StatusFailed    = "failed"
)
