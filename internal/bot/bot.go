// Package bot is the Telegram front end of the game.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/config"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/service"
	"kasouyosou/internal/storage"
)

// Services are the game services the bot drives.
type Services struct {
	Users       *service.UserService
	Rounds      *service.RoundService
	Predictions *service.PredictionService
	Leaderboard *service.LeaderboardService
	Stake       int64
}

type Bot struct {
	tb  *telebot.Bot
	svc Services
	log *zap.Logger
	now func() time.Time
}

// New creates the bot and registers its commands
func New(cfg config.TelegramConfig, svc Services, log *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram.token not set")
	}
	tb, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{tb: tb, svc: svc, log: logger.OrNop(log), now: time.Now}
	tb.Handle("/start", b.handleStart)
	tb.Handle("/help", b.handleHelp)
	tb.Handle("/round", b.handleRound)
	tb.Handle("/bull", b.predictHandler(storage.ChoiceBullish))
	tb.Handle("/neutral", b.predictHandler(storage.ChoiceNeutral))
	tb.Handle("/bear", b.predictHandler(storage.ChoiceBearish))
	tb.Handle("/me", b.handleMe)
	tb.Handle("/history", b.handleHistory)
	tb.Handle("/leaderboard", b.handleLeaderboard)
	tb.Handle("/delete", b.handleDelete)
	return b, nil
}

// Telebot returns the underlying client, shared with the notification service
func (b *Bot) Telebot() *telebot.Bot {
	return b.tb
}

// Start polls for updates until Stop is called
func (b *Bot) Start() {
	b.log.Info("bot_started", zap.String("username", b.tb.Me.Username))
	b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) ctx() context.Context {
	return context.Background()
}

func (b *Bot) handleStart(c telebot.Context) error {
	telegramID := c.Sender().ID
	b.log.Debug("command_start", zap.Int64("telegram_id", telegramID), zap.String("username", c.Sender().Username))

	user, err := b.svc.Users.ByTelegram(b.ctx(), telegramID)
	if err != nil {
		return b.replyError(c, "command_start", err)
	}
	if user != nil {
		return c.Send(fmt.Sprintf("Welcome back, %s! You have %s.\n\nUse /round to see the open round.",
			user.Name, formatPoints(user.Points)))
	}

	name := displayName(c.Message().Payload, c.Sender())
	user, err = b.svc.Users.Create(b.ctx(), service.NewUser{Name: name, TelegramID: telegramID}, b.now())
	if errors.Is(err, apperr.ErrConflict) {
		return c.Send(fmt.Sprintf("The name %q is taken. Pick another with /start <name>.", name))
	}
	if err != nil {
		return b.replyError(c, "command_start", err)
	}
	return c.Send(fmt.Sprintf("Welcome to Kasouyosou, %s! 🎉\n\nYou start with %s. Every hour a round opens: "+
		"call where BTC will be in 4 hours with /bull, /neutral or /bear (stake %s).",
		user.Name, formatPoints(user.Points), formatPoints(b.svc.Stake)))
}

func (b *Bot) handleHelp(c telebot.Context) error {
	helpText := "📚 *Available Commands*\n\n" +
		"/start [name] - Register and receive your welcome points\n" +
		"/round - Show the open round\n" +
		"/bull, /neutral, /bear - Predict on the open round\n" +
		"/me - Your points and rank\n" +
		"/history - Your recent predictions\n" +
		"/leaderboard - Top players\n" +
		"/delete - Delete your account\n" +
		"/help - Show this help message"
	return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
}

func (b *Bot) handleRound(c telebot.Context) error {
	round, err := b.svc.Rounds.Active(b.ctx(), b.now())
	if err != nil {
		return b.replyError(c, "command_round", err)
	}
	if round == nil {
		return c.Send("No round is open right now. The next one starts at the top of the hour.")
	}
	return c.Send(formatRound(round, b.now()))
}

func (b *Bot) predictHandler(choice storage.Choice) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		user, ok, err := b.registered(c)
		if !ok {
			return err
		}
		round, err := b.svc.Rounds.Active(b.ctx(), b.now())
		if err != nil {
			return b.replyError(c, "command_predict", err)
		}
		if round == nil {
			return c.Send("No round is accepting predictions right now.")
		}
		res, err := b.svc.Predictions.Submit(b.ctx(), round.ID, user.UID, choice, b.now())
		if err != nil {
			return b.replyError(c, "command_predict", err)
		}
		if !res.Created {
			return c.Send(fmt.Sprintf("Changed your call on round #%d to %s.", round.ID, choiceLabel(choice)))
		}
		return c.Send(fmt.Sprintf("You called %s on round #%d (base %s). Staked %s, %s left.",
			choiceLabel(choice), round.ID, round.BasePrice.StringFixed(2), formatPoints(b.svc.Stake), formatPoints(res.User.Points)))
	}
}

func (b *Bot) handleMe(c telebot.Context) error {
	user, ok, err := b.registered(c)
	if !ok {
		return err
	}
	entry, err := b.svc.Leaderboard.Me(b.ctx(), user.Name)
	if err != nil {
		return b.replyError(c, "command_me", err)
	}
	return c.Send(fmt.Sprintf("👤 %s\n\nPoints: %s\nRank: #%d\nSettled rounds: %d\nWins: %d (%.1f%%)\nMember since: %s",
		user.Name, formatPoints(user.Points), entry.Rank, entry.TotalRounds, entry.Wins, entry.WinRate*100,
		user.CreatedAt.Format("January 2, 2006")))
}

func (b *Bot) handleHistory(c telebot.Context) error {
	user, ok, err := b.registered(c)
	if !ok {
		return err
	}
	items, err := b.svc.Users.History(b.ctx(), user.UID, 10)
	if err != nil {
		return b.replyError(c, "command_history", err)
	}
	return c.Send(formatHistory(items))
}

func (b *Bot) handleLeaderboard(c telebot.Context) error {
	entries, err := b.svc.Leaderboard.Top(b.ctx(), 10)
	if err != nil {
		return b.replyError(c, "command_leaderboard", err)
	}
	return c.Send(formatLeaderboard(entries))
}

func (b *Bot) handleDelete(c telebot.Context) error {
	user, ok, err := b.registered(c)
	if !ok {
		return err
	}
	if err := b.svc.Users.Delete(b.ctx(), user.UID, b.now()); err != nil {
		return b.replyError(c, "command_delete", err)
	}
	return c.Send("Your account has been deleted. Use /start to play again.")
}

// registered loads the sender's account. When ok is false the reply has
// already been sent and err is its result.
func (b *Bot) registered(c telebot.Context) (*storage.User, bool, error) {
	user, err := b.svc.Users.ByTelegram(b.ctx(), c.Sender().ID)
	if err != nil {
		return nil, false, b.replyError(c, "user_lookup", err)
	}
	if user == nil {
		return nil, false, c.Send("You haven't started the bot yet. Use /start to create your account!")
	}
	return user, true, nil
}

func (b *Bot) replyError(c telebot.Context, action string, err error) error {
	msg := userMessage(err)
	if apperr.KindOf(err) == apperr.KindPersistence || apperr.KindOf(err) == "" {
		b.log.Error(action, zap.Int64("telegram_id", c.Sender().ID), zap.Error(err))
	} else {
		b.log.Debug(action, zap.Int64("telegram_id", c.Sender().ID), zap.String("kind", string(apperr.KindOf(err))))
	}
	return c.Send(msg)
}
