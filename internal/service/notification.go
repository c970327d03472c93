package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"kasouyosou/internal/config"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/storage"
)

// sender is the part of *telebot.Bot used for notifications
type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// NotificationService posts round events to the public channel and DMs winners.
type NotificationService struct {
	bot       sender
	mu        sync.Mutex
	channelID string
	log       *zap.Logger
}

// NewNotificationService creates a notification service on its own bot client
func NewNotificationService(cfg config.TelegramConfig, log *zap.Logger) (*NotificationService, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram.token not set")
	}
	b, err := telebot.NewBot(telebot.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewNotificationServiceWithBot(b, cfg.ChannelID, log), nil
}

// NewNotificationServiceWithBot reuses an existing bot client.
func NewNotificationServiceWithBot(b sender, channelID string, log *zap.Logger) *NotificationService {
	return &NotificationService{bot: b, channelID: channelID, log: logger.OrNop(log)}
}

// formatPoints formats a point amount
func formatPoints(points int64) string {
	return fmt.Sprintf("%d pts", points)
}

// RoundOpened broadcasts a new round to the public channel
func (s *NotificationService) RoundOpened(_ context.Context, round *storage.GameRound) {
	if s.channelID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message := fmt.Sprintf("🆕 *Round #%d is open*\n\nBase price: %s\n⏰ Predictions close: %s UTC\n🎯 Resolves: %s UTC\n\nUse /bull, /neutral or /bear to predict!",
		round.ID,
		escapeMarkdown(round.BasePrice.StringFixed(2)),
		round.ClosedAt.UTC().Format("15:04"),
		round.TargetAt.UTC().Format("2006-01-02 15:04"))

	_, err := s.bot.Send(s.getChannelRecipient(), message, &telebot.SendOptions{
		ParseMode: telebot.ModeMarkdown,
	})
	if err != nil {
		s.log.Warn("broadcast_error", zap.String("channel", s.channelID), zap.Int64("round_id", round.ID), zap.Error(err))
		return
	}
	s.log.Debug("broadcast_round_opened", zap.Int64("round_id", round.ID))
}

// RoundSettled broadcasts the outcome and DMs every linked winner
func (s *NotificationService) RoundSettled(_ context.Context, settled SettledRound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := settled.Round
	if s.channelID != "" && round.WinningChoice != nil {
		message := fmt.Sprintf("🏁 *Round #%d settled*\n\n%s → %s\nOutcome: *%s*\n👥 %d predictions, %d winners\n💰 Share: %s",
			round.ID,
			escapeMarkdown(round.BasePrice.StringFixed(2)),
			escapeMarkdown(round.ResultPrice.Decimal.StringFixed(2)),
			round.WinningChoice.String(),
			settled.Payout.Participants,
			settled.Payout.Winners,
			formatPoints(settled.Payout.Share))
		if names := winnerNames(settled.Predictions); names != "" {
			message += "\n🏆 " + escapeMarkdown(truncateString(names, 200))
		}

		_, err := s.bot.Send(s.getChannelRecipient(), message, &telebot.SendOptions{
			ParseMode: telebot.ModeMarkdown,
		})
		if err != nil {
			s.log.Warn("broadcast_error", zap.String("channel", s.channelID), zap.Int64("round_id", round.ID), zap.Error(err))
		} else {
			s.log.Debug("broadcast_round_settled", zap.Int64("round_id", round.ID))
		}
	}

	for _, p := range settled.Predictions {
		if p.IsWon == nil || !*p.IsWon || p.User.TelegramID == 0 {
			continue
		}
		message := fmt.Sprintf("🏆 You won %s on round #%d\n\nYour call: %s\nNew balance: %s",
			formatPoints(p.EarnedPoints),
			round.ID,
			p.Choice,
			formatPoints(p.User.Points))
		if _, err := s.bot.Send(&telebot.User{ID: p.User.TelegramID}, message); err != nil {
			s.log.Warn("notification_error", zap.String("user_uid", p.UserUID), zap.Error(err))
			continue
		}
		s.log.Debug("win_notification_sent", zap.String("user_uid", p.UserUID), zap.Int64("round_id", round.ID))
	}
}

func winnerNames(preds []storage.RoundPrediction) string {
	var names []string
	for _, p := range preds {
		if p.IsWon != nil && *p.IsWon {
			names = append(names, p.User.Name)
		}
	}
	return strings.Join(names, ", ")
}

// truncateString truncates a string to maxLen and adds ellipsis if needed
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxLen-3])) + "..."
}

// getChannelRecipient returns the appropriate recipient for the configured channel
func (s *NotificationService) getChannelRecipient() telebot.Recipient {
	if strings.HasPrefix(s.channelID, "@") {
		return &telebot.Chat{Username: s.channelID}
	}
	return &telebot.Chat{ID: parseChannelID(s.channelID)}
}

// parseChannelID parses a channel ID string (supports numeric IDs)
func parseChannelID(channelID string) int64 {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// escapeMarkdown escapes special characters for Telegram Markdown mode
func escapeMarkdown(s string) string {
	escaped := s
	escaped = strings.ReplaceAll(escaped, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "*", `\*`)
	escaped = strings.ReplaceAll(escaped, "_", `\_`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	escaped = strings.ReplaceAll(escaped, "[", `\[`)
	escaped = strings.ReplaceAll(escaped, "]", `\]`)
	return escaped
}
