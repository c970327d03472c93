package bot

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/telebot.v3"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/service"
	"kasouyosou/internal/storage"
)

// formatPoints formats a point amount
func formatPoints(points int64) string {
	return fmt.Sprintf("%d pts", points)
}

func choiceLabel(c storage.Choice) string {
	switch c {
	case storage.ChoiceBullish:
		return "📈 BULLISH"
	case storage.ChoiceNeutral:
		return "➖ NEUTRAL"
	case storage.ChoiceBearish:
		return "📉 BEARISH"
	}
	return c.String()
}

// displayName picks the registration name: explicit payload, then
// Telegram username, then first name.
func displayName(payload string, sender *telebot.User) string {
	if name := strings.TrimSpace(payload); name != "" {
		return name
	}
	if sender == nil {
		return ""
	}
	if sender.Username != "" {
		return sender.Username
	}
	if name := strings.TrimSpace(sender.FirstName); name != "" {
		return name
	}
	return fmt.Sprintf("tg%d", sender.ID)
}

func userMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindClosed:
		return "⏰ " + apperr.MessageOf(err) + ". Wait for the next round."
	case apperr.KindInsufficientPoints:
		return "💸 Not enough points: " + apperr.MessageOf(err) + "."
	case apperr.KindNotFound, apperr.KindDeleted, apperr.KindInvalid, apperr.KindConflict:
		return apperr.MessageOf(err) + "."
	case apperr.KindUpstream:
		return "The price feed is unavailable. Please try again in a minute."
	}
	return "Something went wrong. Please try again."
}

func formatRound(r *service.RoundDetail, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎯 Round #%d\n\nBase price: %s\n", r.ID, r.BasePrice.StringFixed(2))
	if left := r.ClosedAt.Sub(now); left > 0 {
		fmt.Fprintf(&sb, "⏰ Closes in %s (%s UTC)\n", left.Truncate(time.Minute), r.ClosedAt.UTC().Format("15:04"))
	} else {
		sb.WriteString("⏰ Closed\n")
	}
	fmt.Fprintf(&sb, "🏁 Resolves at %s UTC\n", r.TargetAt.UTC().Format("15:04"))

	counts := map[storage.Choice]int{}
	for _, p := range r.Predictions {
		counts[p.Choice]++
	}
	fmt.Fprintf(&sb, "\n%d predictions: %d bull / %d neutral / %d bear",
		len(r.Predictions), counts[storage.ChoiceBullish], counts[storage.ChoiceNeutral], counts[storage.ChoiceBearish])
	return sb.String()
}

func formatHistory(items []storage.PredictionHistoryItem) string {
	if len(items) == 0 {
		return "🎲 No predictions yet. Use /round to join the open round!"
	}
	var sb strings.Builder
	sb.WriteString("🎲 Recent predictions\n\n")
	for _, it := range items {
		status := "⏳ pending"
		if it.IsWon != nil {
			if *it.IsWon {
				status = "🟢 won " + formatPoints(it.EarnedPoints)
			} else {
				status = "🔴 lost"
			}
		}
		fmt.Fprintf(&sb, "%s  %s  %s\n", it.StartAt.UTC().Format("01-02 15:04"), choiceLabel(it.Choice), status)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLeaderboard(entries []storage.LeaderboardEntry) string {
	if len(entries) == 0 {
		return "🏆 No players yet."
	}
	var sb strings.Builder
	sb.WriteString("🏆 Leaderboard\n\n")
	for _, e := range entries {
		tag := ""
		if e.IsAI {
			tag = " 🤖"
		}
		fmt.Fprintf(&sb, "#%d %s%s  %s  (%d/%d)\n", e.Rank, e.Username, tag, formatPoints(e.Points), e.Wins, e.TotalRounds)
	}
	return strings.TrimRight(sb.String(), "\n")
}
