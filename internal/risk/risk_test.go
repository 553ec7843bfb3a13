package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoadLimitsMissingFileFallsBack(t *testing.T) {
	limits := LoadLimits(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())
	assert.Equal(t, DefaultLimits(), limits)
}

func TestLoadLimitsReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	content := `{
		"total_capital": 50000,
		"max_position_usd": 20000,
		"max_portfolio_exposure_pct": 90,
		"max_positions_open": 8,
		"allow_premarket": true
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	limits := LoadLimits(path, zerolog.Nop())
	assert.Equal(t, 50000.0, limits.TotalCapital)
	assert.Equal(t, 20000.0, limits.MaxPositionUSD)
	assert.Equal(t, 90.0, limits.MaxPortfolioExpoPct)
	assert.Equal(t, 8, limits.MaxPositionsOpen)
	assert.True(t, limits.AllowPremarket)
	// Untouched fields keep their conservative defaults.
	assert.Equal(t, DefaultLimits().DailyLossLimitUSD, limits.DailyLossLimitUSD)
}

func TestLoadLimitsBadJSONFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, DefaultLimits(), LoadLimits(path, zerolog.Nop()))
}

func TestDefaultLimitsAreConservative(t *testing.T) {
	d := DefaultLimits()
	assert.Greater(t, d.TotalCapital, 0.0)
	assert.LessOrEqual(t, d.MaxPositionUSD, d.TotalCapital)
	assert.False(t, d.AllowPremarket)
	assert.False(t, d.TradingHoursOverride)
	assert.Greater(t, d.MaxPositionsOpen, 0)
}
