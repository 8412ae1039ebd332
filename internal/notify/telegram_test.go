package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundscan/internal/domain"
)

func TestFormatDeal(t *testing.T) {
	deal := &domain.Deal{
		Company:   "Acme Labs",
		Category:  "seed",
		AmountUSD: 5_000_000,
		Investors: []string{"Example Ventures", "Angel One"},
		SourceURL: "https://news.example/acme-labs-seed",
	}

	msg := formatDeal(deal)
	assert.Contains(t, msg, "New funding: Acme Labs (seed) - $5M")
	assert.Contains(t, msg, "Investors: Example Ventures, Angel One")
	assert.Contains(t, msg, "https://news.example/acme-labs-seed")
}

func TestFormatDealMinimalFields(t *testing.T) {
	msg := formatDeal(&domain.Deal{Company: "Quiet Co"})
	assert.Equal(t, "New funding: Quiet Co", msg)
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		500_000:       "500000",
		5_000_000:     "5M",
		12_500_000:    "12.5M",
		1_000_000_000: "1B",
		1_200_000_000: "1.2B",
	}
	for usd, want := range cases {
		assert.Equal(t, want, formatAmount(usd), "amount %d", usd)
	}
}

func TestNotifyDealMisconfigured(t *testing.T) {
	n := NewTelegramNotifier("", "")
	err := n.NotifyDeal(context.Background(), &domain.Deal{Company: "Acme Labs"})
	require.Error(t, err)
}
