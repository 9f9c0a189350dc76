package domain

import (
	"time"
)

// Action is the engine's recommendation for a transaction.
type Action string

const (
	ActionBlock  Action = "block"
	ActionReview Action = "review"
	ActionWarn   Action = "warn"
	ActionAllow  Action = "allow"
)

// actionRank orders actions by severity for dominance resolution.
var actionRank = map[Action]int{
	ActionAllow:  0,
	ActionWarn:   1,
	ActionReview: 2,
	ActionBlock:  3,
}

// MoreSevere reports whether a outranks b (BLOCK > REVIEW > WARN > ALLOW).
func (a Action) MoreSevere(b Action) bool {
	return actionRank[a] > actionRank[b]
}

// DuplicateCheck is the result of comparing one transaction against history.
// Score is a weighted [0,1] similarity against the single best-matching
// prior transaction.
type DuplicateCheck struct {
	// Exact-match flags against the best match
	SameAmount       bool `json:"sameAmount"`
	SameDate         bool `json:"sameDate"`
	SameDescription  bool `json:"sameDescription"`
	SameCounterparty bool `json:"sameCounterparty"`

	// Near-match flags: amount within 5%, date within 7 days,
	// description similarity >= 80% by normalized edit distance
	NearAmount      bool `json:"nearAmount"`
	NearDate        bool `json:"nearDate"`
	NearDescription bool `json:"nearDescription"`

	Score       float64 `json:"score"`
	IsDuplicate bool    `json:"isDuplicate"`
	BestMatchID string  `json:"bestMatchId,omitempty"`
}

// LimitType identifies which configured limit a transaction exceeded.
type LimitType string

const (
	LimitDaily          LimitType = "daily"
	LimitMonthly        LimitType = "monthly"
	LimitAnnual         LimitType = "annual"
	LimitPerTransaction LimitType = "per_transaction"
)

// ThresholdStatus reports per-category usage against a ThresholdConfig.
// Sums include the candidate transaction. Exceeded is strict: usage at
// exactly the limit is not exceeded, one minor unit over is.
type ThresholdStatus struct {
	CategoryCode string `json:"categoryCode"`

	DailyUsed   int64 `json:"dailyUsed"`
	MonthlyUsed int64 `json:"monthlyUsed"`
	AnnualUsed  int64 `json:"annualUsed"`

	DailyPct   float64 `json:"dailyPct"`
	MonthlyPct float64 `json:"monthlyPct"`
	AnnualPct  float64 `json:"annualPct"`

	WarningRatio float64   `json:"warningRatio"`
	HasWarning   bool      `json:"hasWarning"`
	HasExceeded  bool      `json:"hasExceeded"`
	LimitType    LimitType `json:"limitType,omitempty"`
}

// PatternCheck holds aggregate behavioral statistics over a transaction
// window. It characterizes behavior, not a single event.
type PatternCheck struct {
	RoundAmountRatio      float64 `json:"roundAmountRatio"`
	WeekendRatio          float64 `json:"weekendRatio"`
	EndOfMonthSpike       bool    `json:"endOfMonthSpike"`
	YearEndSpike          bool    `json:"yearEndSpike"`
	AmountStdDev          float64 `json:"amountStdDev"`
	CategoryDominance     bool    `json:"categoryDominance"`
	DominantCategory      string  `json:"dominantCategory,omitempty"`
	MerchantConcentration float64 `json:"merchantConcentration"`
	TopMerchantID         string  `json:"topMerchantId,omitempty"`
	TxPerDay              float64 `json:"txPerDay"`
	TxPerWeek             float64 `json:"txPerWeek"`
	Acceleration          float64 `json:"acceleration"`

	// Weighted-sum classifier output; weights are tunable configuration,
	// not derived statistics.
	RiskScore  int  `json:"riskScore"`
	IsHighRisk bool `json:"isHighRisk"`
}

// AnomalyKind identifies which anomaly family a score belongs to.
type AnomalyKind string

const (
	AnomalyAmount    AnomalyKind = "amount"
	AnomalyFrequency AnomalyKind = "frequency"
	AnomalyCategory  AnomalyKind = "category"
)

// AnomalyScore is a z-score derived anomaly signal in [0,1] plus the
// comparison statistics used to derive it. Below the detector's minimum
// history precondition the result is neutral, never an error.
type AnomalyScore struct {
	Kind      AnomalyKind `json:"kind"`
	Score     float64     `json:"score"`
	IsAnomaly bool        `json:"isAnomaly"`
	Reason    string      `json:"reason"`

	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stdDev"`
	ZScore    float64 `json:"zScore"`
	RangeLow  float64 `json:"rangeLow"`
	RangeHigh float64 `json:"rangeHigh"`
}

// VelocityCheck compares the current transaction rate (trailing 7 days)
// against the 30-day window immediately preceding it.
type VelocityCheck struct {
	CurrentRate    float64 `json:"currentRate"`    // tx/day over trailing 7 days
	HistoricalRate float64 `json:"historicalRate"` // tx/day over preceding 30 days
	Acceleration   float64 `json:"acceleration"`
	IsSpike        bool    `json:"isSpike"`
	SpikeThreshold float64 `json:"spikeThreshold"`

	// Burst: more than BurstLimit transactions in the trailing hour.
	BurstDetected bool `json:"burstDetected"`
	BurstCount    int  `json:"burstCount"`

	// Momentum: second derivative of rate across three 7-day periods.
	Momentum       float64 `json:"momentum"`
	IsAccelerating bool    `json:"isAccelerating"`
}

// Check names for the ChecksPerformed / ChecksSkipped sets.
const (
	CheckDuplicate = "duplicate"
	CheckThreshold = "threshold"
	CheckPattern   = "pattern"
	CheckAnomaly   = "anomaly"
	CheckVelocity  = "velocity"
)

// SkippedCheck records a detector that was not run and why, whether from
// an unmet data precondition or an isolated detector failure.
type SkippedCheck struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// FraudCheckResult is the overall engine output for one transaction.
// It is immutable once produced: re-running the engine on the same inputs
// (including the explicit "now") yields an identical result.
type FraudCheckResult struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenantId"`
	TxID         string `json:"txId"`
	Jurisdiction string `json:"jurisdiction"`

	Duplicate *DuplicateCheck  `json:"duplicate,omitempty"`
	Threshold *ThresholdStatus `json:"threshold,omitempty"`
	Pattern   *PatternCheck    `json:"pattern,omitempty"`
	Amount    *AnomalyScore    `json:"amountAnomaly,omitempty"`
	Frequency *AnomalyScore    `json:"frequencyAnomaly,omitempty"`
	Category  *AnomalyScore    `json:"categoryAnomaly,omitempty"`
	Velocity  *VelocityCheck   `json:"velocity,omitempty"`

	Alerts []Alert `json:"alerts"`

	RecommendedAction Action `json:"recommendedAction"`
	BlockedBySystem   bool   `json:"blockedBySystem"`

	ChecksPerformed []string       `json:"checksPerformed"`
	ChecksSkipped   []SkippedCheck `json:"checksSkipped,omitempty"`

	CheckedAt time.Time `json:"checkedAt"`
}

// Reasons extracts the alert titles of every alert at or above warning
// severity, for API responses and logs.
func (r *FraudCheckResult) Reasons() []string {
	var reasons []string
	for _, a := range r.Alerts {
		if a.Severity == SeverityInfo {
			continue
		}
		reasons = append(reasons, a.Title)
	}
	return reasons
}
