// Package notify delivers new-deal alerts. Delivery is best-effort and runs
// strictly after the record is committed.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fundscan/internal/domain"
)

// TelegramNotifier posts deal alerts to a Telegram chat via the bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier registers bot token and chat identifier.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyDeal posts a short message describing the stored deal.
func (n *TelegramNotifier) NotifyDeal(ctx context.Context, deal *domain.Deal) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatDeal(deal))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

func formatDeal(deal *domain.Deal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New funding: %s", deal.Company)
	if deal.Category != "" {
		fmt.Fprintf(&b, " (%s)", deal.Category)
	}
	if deal.AmountUSD > 0 {
		fmt.Fprintf(&b, " - $%s", formatAmount(deal.AmountUSD))
	}
	if len(deal.Investors) > 0 {
		fmt.Fprintf(&b, "\nInvestors: %s", strings.Join(deal.Investors, ", "))
	}
	if deal.SourceURL != "" {
		fmt.Fprintf(&b, "\n%s", deal.SourceURL)
	}
	return b.String()
}

func formatAmount(usd int64) string {
	switch {
	case usd >= 1_000_000_000:
		return trimZero(fmt.Sprintf("%.1fB", float64(usd)/1e9))
	case usd >= 1_000_000:
		return trimZero(fmt.Sprintf("%.1fM", float64(usd)/1e6))
	default:
		return fmt.Sprintf("%d", usd)
	}
}

func trimZero(s string) string {
	return strings.Replace(s, ".0", "", 1)
}
