package enrich

import (
	"sort"
	"strings"
)

// Keyword-based sentiment scorer: the deterministic offline path used
// when no LLM is configured. Scores land on the knowledge base's [0,1]
// scale with 0.5 neutral.

// Bullish / bearish keyword dictionaries (lowercase).
var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "upbeat": 0.5,
	"positive": 0.4, "growth": 0.4, "upgrade": 0.6, "outperform": 0.6,
	"buy": 0.5, "strong": 0.4, "recovery": 0.5, "breakout": 0.6,
	"record high": 0.7, "all-time high": 0.7, "beat": 0.5,
	"exceeds": 0.5, "beats estimate": 0.6, "expansion": 0.4,
	"profit": 0.3, "dividend": 0.4, "rate cut": 0.6, "dovish": 0.5,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "slump": 0.6,
	"negative": 0.4, "downgrade": 0.6, "underperform": 0.6,
	"sell": 0.5, "weak": 0.4, "decline": 0.5, "loss": 0.4,
	"selloff": 0.7, "fall": 0.4, "correction": 0.5,
	"default": 0.7, "fraud": 0.8, "recession": 0.7, "investigation": 0.5,
	"miss": 0.5, "warning": 0.5, "concern": 0.3, "rate hike": 0.6, "hawkish": 0.5,
}

// lexiconScore rates a text on [0,1]. ok is false when no keyword
// matched and the row should stay unsentimented.
func lexiconScore(text string) (score float64, insight string, ok bool) {
	lower := strings.ToLower(text)

	var bull, bear float64
	var hits []string
	for word, weight := range bullishWords {
		if strings.Contains(lower, word) {
			bull += weight
			hits = append(hits, word)
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(lower, word) {
			bear += weight
			hits = append(hits, word)
		}
	}
	if len(hits) == 0 || bull+bear == 0 {
		return 0, "", false
	}

	// Net score on [-1,1], mapped onto [0,1].
	net := (bull - bear) / (bull + bear)
	score = (net + 1) / 2

	sort.Strings(hits)
	if len(hits) > 4 {
		hits = hits[:4]
	}
	direction := "neutral"
	switch {
	case net > 0.15:
		direction = "bullish"
	case net < -0.15:
		direction = "bearish"
	}
	insight = "keyword scan reads " + direction + " (" + strings.Join(hits, ", ") + ")"
	return clamp01(score), insight, true
}
