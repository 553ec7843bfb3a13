package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/pkg/marketclock"
	"github.com/avkuzmin/sibyl/pkg/models"
)

type feedStub struct {
	pm  models.Premarket
	err error
}

func (f feedStub) GetBars(context.Context, string, time.Time, time.Time) ([]models.Bar, error) {
	return nil, nil
}

func (f feedStub) GetPremarket(context.Context, string) (models.Premarket, error) {
	return f.pm, f.err
}

func clockAt(hour, min int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 3, 11, hour, min, 0, 0, marketclock.ET)
	}
}

func TestOraclePhase(t *testing.T) {
	o := New(feedStub{}, clockAt(8, 0), zerolog.Nop())
	if o.Phase() != marketclock.PreMarket {
		t.Errorf("8:00 ET should be PRE_MARKET, got %s", o.Phase())
	}

	o = New(feedStub{}, clockAt(12, 0), zerolog.Nop())
	if o.Phase() != marketclock.Regular {
		t.Errorf("noon ET should be REGULAR, got %s", o.Phase())
	}
}

func TestPremarketContext(t *testing.T) {
	feed := feedStub{pm: models.Premarket{
		Ticker:    "MSFT",
		Last:      360,
		PrevClose: 350,
	}}
	o := New(feed, clockAt(8, 0), zerolog.Nop())

	pc := o.Premarket(context.Background(), "MSFT")
	if pc.Err != "" {
		t.Fatalf("unexpected error: %s", pc.Err)
	}
	if pc.PremarketLast != 360 || pc.PrevClose != 350 {
		t.Errorf("snapshot wrong: %+v", pc)
	}
	wantGap := (360.0 - 350.0) / 350.0 * 100
	if diff := pc.PremarketGapPct - wantGap; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("gap = %.4f, want %.4f", pc.PremarketGapPct, wantGap)
	}
	if pc.MinutesUntilOpen != 90 {
		t.Errorf("minutes until open = %d, want 90", pc.MinutesUntilOpen)
	}
}

func TestPremarketOutsideSession(t *testing.T) {
	o := New(feedStub{}, clockAt(12, 0), zerolog.Nop())
	pc := o.Premarket(context.Background(), "MSFT")
	if pc.Err == "" {
		t.Error("expected an error outside PRE_MARKET")
	}
}

func TestPremarketFeedFailure(t *testing.T) {
	o := New(feedStub{err: errors.New("feed down")}, clockAt(8, 0), zerolog.Nop())
	pc := o.Premarket(context.Background(), "MSFT")
	if pc.Err == "" {
		t.Error("expected the feed error to surface in the context")
	}
}
