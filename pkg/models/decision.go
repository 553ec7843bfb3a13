package models

import "time"

// Decision is the discrete action the analyst settles on.
type Decision string

const (
	DecisionStrongBuy Decision = "STRONG_BUY"
	DecisionBuy       Decision = "BUY"
	DecisionHold      Decision = "HOLD"
	DecisionSell      Decision = "SELL"
)

// EntryAdvice qualifies a directional decision during risky sessions.
type EntryAdvice string

const (
	EntryOK      EntryAdvice = "OK"
	EntryCaution EntryAdvice = "CAUTION"
	EntryAvoid   EntryAdvice = "AVOID"
)

// PremarketEntry is the analyst's recommendation for acting before the
// open when a pre-market gap is present.
type PremarketEntry string

const (
	PremarketEnterNow   PremarketEntry = "ENTER_NOW"
	PremarketWaitOpen   PremarketEntry = "WAIT_OPEN"
	PremarketLimitBelow PremarketEntry = "LIMIT_BELOW"
)

// EventPrior aggregates the outcomes of similar past events into a
// prior for the current decision.
type EventPrior struct {
	Events         int     `json:"events"`
	AvgPriceChange float64 `json:"avg_price_change"`
	SuccessRate    float64 `json:"success_rate"`
	Confidence     float64 `json:"confidence"`
}

// LLMGuidance is the strict-JSON answer expected from the LLM guidance
// prompt. The strategy label and confidence participate in the final
// decision; entry/stop/target are advisory.
type LLMGuidance struct {
	Strategy   string  `json:"strategy"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Analysis is the full analyst output for one ticker.
type Analysis struct {
	Ticker            string    `json:"ticker"`
	Ts                time.Time `json:"ts"`
	Decision          Decision  `json:"decision"`
	Strategy          string    `json:"strategy"`
	Confidence        float64   `json:"confidence"`
	TechnicalSignal   Decision  `json:"technical_signal"`
	WeightedSentiment float64   `json:"weighted_sentiment"`
	Close             float64   `json:"close"`
	EntryPrice        float64   `json:"entry_price"`
	StopPct           float64   `json:"stop_pct"`
	TargetPct         float64   `json:"target_pct"`
	Reason            string    `json:"reason"`

	Prior    *EventPrior  `json:"prior,omitempty"`
	Guidance *LLMGuidance `json:"llm_guidance,omitempty"`

	SessionPhase    string         `json:"session_phase"`
	EntryAdvice     EntryAdvice    `json:"entry_advice"`
	PremarketGapPct *float64       `json:"premarket_gap_pct,omitempty"`
	PremarketEntry  PremarketEntry `json:"premarket_entry_recommendation,omitempty"`
	PremarketLimit  *float64       `json:"premarket_limit_price,omitempty"`

	EstimatedUpsidePctDay    float64 `json:"estimated_upside_pct_day"`
	SuggestedTakeProfitPrice float64 `json:"suggested_take_profit_price"`
}
