// Package quotes ingests OHLC bars and maintains the derived
// indicator columns (SMA-5, 5-bar volatility, Wilder RSI-14).
package quotes

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

const (
	smaPeriod = 5
	rsiPeriod = 14
)

// sma5At returns the 5-bar simple moving average ending at index i, or
// nil with fewer than 5 bars of history.
func sma5At(closes []float64, i int) *float64 {
	if i+1 < smaPeriod {
		return nil
	}
	out := talib.Sma(closes[:i+1], smaPeriod)
	v := out[len(out)-1]
	return &v
}

// volatility5At returns the corrected-sample standard deviation of the
// 5 most recent closes ending at index i.
func volatility5At(closes []float64, i int) *float64 {
	if i+1 < smaPeriod {
		return nil
	}
	window := closes[i+1-smaPeriod : i+1]
	v := stat.StdDev(window, nil)
	return &v
}

// rsiAt returns the Wilder RSI-14 ending at index i. Needs period+1
// bars of history, else nil.
func rsiAt(closes []float64, i int) *float64 {
	if i+1 < rsiPeriod+1 {
		return nil
	}
	out := talib.Rsi(closes[:i+1], rsiPeriod)
	v := out[len(out)-1]
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
