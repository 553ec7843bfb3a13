// Package quotefeed defines the pluggable quote capability and its
// default Yahoo-chart-style implementation.
package quotefeed

import (
	"context"
	"time"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// Provider supplies historical bars and off-hours snapshots.
// Symbol format follows the de-facto provider convention: plain for
// stocks, XXXYYY=X for FX, =F suffix for futures, -USD for crypto,
// ^NAME for indexes.
type Provider interface {
	// GetBars returns daily bars for [from, to], oldest first.
	GetBars(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error)

	// GetPremarket returns the latest off-hours snapshot. Only the
	// session oracle may call this.
	GetPremarket(ctx context.Context, ticker string) (models.Premarket, error)
}

// RSIProvider optionally supplies externally computed RSI values that
// overwrite locally computed ones when fresher.
type RSIProvider interface {
	GetRSI(ctx context.Context, ticker string) (float64, error)
}
