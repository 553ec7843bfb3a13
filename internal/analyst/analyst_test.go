package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/session"
	"github.com/avkuzmin/sibyl/internal/strategy"
	"github.com/avkuzmin/sibyl/pkg/models"
)

func fp(v float64) *float64 { return &v }

func TestMapDecision(t *testing.T) {
	tests := []struct {
		name      string
		regime    string
		tech      models.Decision
		sentiment float64
		want      models.Decision
	}{
		{"momentum strong", strategy.NameMomentum, models.DecisionBuy, 0.80, models.DecisionStrongBuy},
		{"momentum plain", strategy.NameMomentum, models.DecisionBuy, 0.60, models.DecisionBuy},
		{"momentum weak sentiment", strategy.NameMomentum, models.DecisionBuy, 0.40, models.DecisionHold},
		{"momentum tech hold", strategy.NameMomentum, models.DecisionHold, 0.80, models.DecisionHold},

		{"reversion confirmed", strategy.NameMeanReversion, models.DecisionBuy, 0.75, models.DecisionBuy},
		{"reversion unconfirmed", strategy.NameMeanReversion, models.DecisionBuy, 0.60, models.DecisionHold},
		{"reversion neutral", strategy.NameMeanReversion, models.DecisionHold, 0.45, models.DecisionHold},
		{"reversion bearish", strategy.NameMeanReversion, models.DecisionHold, 0.20, models.DecisionSell},

		{"gap strong", strategy.NameVolatileGap, models.DecisionBuy, 0.85, models.DecisionStrongBuy},
		{"gap plain", strategy.NameVolatileGap, models.DecisionBuy, 0.55, models.DecisionBuy},
		{"gap bearish", strategy.NameVolatileGap, models.DecisionHold, 0.15, models.DecisionSell},
		{"gap neutral", strategy.NameVolatileGap, models.DecisionHold, 0.50, models.DecisionHold},

		{"neutral always holds", strategy.NameNeutral, models.DecisionBuy, 0.95, models.DecisionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDecision(tt.regime, tt.tech, tt.sentiment); got != tt.want {
				t.Errorf("mapDecision(%s, %s, %.2f) = %s, want %s",
					tt.regime, tt.tech, tt.sentiment, got, tt.want)
			}
		})
	}
}

func TestMentionsTicker(t *testing.T) {
	tests := []struct {
		content string
		ticker  string
		want    bool
	}{
		{"MSFT beats earnings estimates", "MSFT", true},
		{"Microsoft (msft) rallies", "MSFT", true},
		{"MSCI index rebalance", "MS", false},
		{"buy AAPL now", "AAPL", true},
		{"nothing relevant", "TSLA", false},
		{"TER up 4%", "TER", true},
		{"INTERest rates rise", "TER", false},
	}
	for _, tt := range tests {
		if got := mentionsTicker(tt.content, tt.ticker); got != tt.want {
			t.Errorf("mentionsTicker(%q, %q) = %v, want %v", tt.content, tt.ticker, got, tt.want)
		}
	}
}

func TestAverageVolatility(t *testing.T) {
	bars := make([]models.Quote, 10)
	for i := range bars {
		bars[i].Volatility5 = fp(float64(i + 1))
	}
	got := averageVolatility(bars)
	if got == nil {
		t.Fatal("expected average")
	}
	if *got != 5.5 {
		t.Errorf("mean = %.2f, want 5.5", *got)
	}

	// Fewer than 5 values: no baseline.
	if averageVolatility(bars[:4]) != nil {
		t.Error("expected nil with fewer than 5 volatility values")
	}
	if averageVolatility([]models.Quote{{}, {}, {}, {}, {}, {}}) != nil {
		t.Error("expected nil when no bar carries volatility")
	}
}

// premarketFeed is a stub quote provider for pre-market context.
type premarketFeed struct {
	last, prevClose float64
}

func (f premarketFeed) GetBars(context.Context, string, time.Time, time.Time) ([]models.Bar, error) {
	return nil, nil
}

func (f premarketFeed) GetPremarket(_ context.Context, ticker string) (models.Premarket, error) {
	return models.Premarket{
		Ticker:    ticker,
		Last:      f.last,
		PrevClose: f.prevClose,
		Timestamp: time.Now(),
	}, nil
}

// premarketAnalyst builds an analyst whose clock sits at 8:00 ET on a
// Tuesday, inside the pre-market session.
func premarketAnalyst(feed premarketFeed) *Analyst {
	loc, _ := time.LoadLocation("America/New_York")
	clock := func() time.Time {
		return time.Date(2025, 3, 11, 8, 0, 0, 0, loc)
	}
	oracle := session.New(feed, clock, zerolog.Nop())
	return &Analyst{
		oracle: oracle,
		now:    clock,
		log:    zerolog.Nop(),
	}
}

func TestApplyPremarketGapAdvice(t *testing.T) {
	tests := []struct {
		name       string
		last, prev float64
		advice     models.EntryAdvice
		entry      models.PremarketEntry
	}{
		{"moderate gap up", 360, 350, models.EntryCaution, models.PremarketLimitBelow}, // +2.86%
		{"large gap up", 367.5, 350, models.EntryAvoid, models.PremarketWaitOpen},      // +5%
		{"small gap", 352, 350, models.EntryOK, models.PremarketEnterNow},              // +0.57%
		{"moderate gap down", 340, 350, models.EntryCaution, models.PremarketWaitOpen}, // -2.86%
		{"large gap down", 330, 350, models.EntryAvoid, models.PremarketWaitOpen},      // -5.7%
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := premarketAnalyst(premarketFeed{last: tt.last, prevClose: tt.prev})
			result := &models.Analysis{
				Ticker:      "MSFT",
				EntryAdvice: models.EntryOK,
			}
			a.applyPremarket(context.Background(), "MSFT", result)

			if result.EntryAdvice != tt.advice {
				t.Errorf("advice = %s, want %s", result.EntryAdvice, tt.advice)
			}
			if result.PremarketEntry != tt.entry {
				t.Errorf("entry recommendation = %s, want %s", result.PremarketEntry, tt.entry)
			}
			if result.PremarketGapPct == nil {
				t.Fatal("expected gap to be recorded")
			}
			if tt.entry == models.PremarketLimitBelow {
				if result.PremarketLimit == nil {
					t.Fatal("expected a limit price")
				}
				if *result.PremarketLimit <= tt.prev || *result.PremarketLimit >= tt.last {
					t.Errorf("limit %.2f not between prev close and premarket last", *result.PremarketLimit)
				}
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-0.2) != 0 || clamp01(1.4) != 1 || clamp01(0.6) != 0.6 {
		t.Error("clamp01 misbehaves")
	}
}
