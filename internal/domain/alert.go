package domain

import (
	"fmt"
	"time"
)

// AlertType is the closed enumeration of alert families.
type AlertType string

const (
	AlertDuplicate            AlertType = "duplicate"
	AlertThresholdExceeded    AlertType = "threshold_exceeded"
	AlertThresholdApproaching AlertType = "threshold_approaching"
	AlertSuspiciousPattern    AlertType = "suspicious_pattern"
	AlertUnusualAmount        AlertType = "unusual_amount"
	AlertVelocitySpike        AlertType = "velocity_spike"
	AlertCategoryAnomaly      AlertType = "category_anomaly"
	AlertRoundAmountPattern   AlertType = "round_amount_pattern"
	AlertTimingAnomaly        AlertType = "timing_anomaly"
)

// Severity orders alerts for a human reviewer.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ReviewState is the alert review lifecycle. Alerts are created once by the
// engine; thereafter only review fields change, via the reviewer workflow.
type ReviewState string

const (
	ReviewPending   ReviewState = "pending"
	ReviewReviewed  ReviewState = "reviewed"
	ReviewDismissed ReviewState = "dismissed"
	ReviewConfirmed ReviewState = "confirmed"
)

// Evidence is a structured justification for why an alert fired.
type Evidence struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Explanation string `json:"explanation"`
}

// Alert is the unit of output to a human reviewer.
type Alert struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TxID     string `json:"txId"`

	Type        AlertType  `json:"type"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Evidence    []Evidence `json:"evidence"`

	// Action implied by this alert; the overall recommendation is the most
	// severe action across all alerts.
	Action Action `json:"action"`

	// AutoBlocked marks alerts that blocked without review (duplicate score
	// at or above the auto-block threshold). Release requires explicit
	// approval via the review workflow.
	AutoBlocked bool `json:"autoBlocked,omitempty"`

	// Review lifecycle, mutated only by the external reviewer workflow.
	State      ReviewState `json:"state"`
	ReviewNote string      `json:"reviewNote,omitempty"`
	ReviewedBy string      `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time  `json:"reviewedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReviewDecision is the reviewer's verdict on a pending alert.
type ReviewDecision struct {
	Decision              string `json:"decision"` // "dismiss" or "confirm"
	Note                  string `json:"note,omitempty"`
	CorrectedCategoryCode string `json:"correctedCategoryCode,omitempty"`
	CorrectedAmount       int64  `json:"correctedAmount,omitempty"`
}

// Validate checks the decision verb.
func (d *ReviewDecision) Validate() error {
	switch d.Decision {
	case "dismiss", "confirm":
		return nil
	default:
		return fmt.Errorf("decision must be \"dismiss\" or \"confirm\", got %q", d.Decision)
	}
}

// Apply transitions the alert's review lifecycle. Returns an error if the
// alert is no longer pending.
func (a *Alert) Apply(d *ReviewDecision, reviewer string, now time.Time) error {
	if a.State != ReviewPending {
		return fmt.Errorf("alert %s is %s, only pending alerts can be reviewed", a.ID, a.State)
	}
	if err := d.Validate(); err != nil {
		return err
	}

	switch d.Decision {
	case "dismiss":
		a.State = ReviewDismissed
	case "confirm":
		a.State = ReviewConfirmed
	}
	a.ReviewNote = d.Note
	a.ReviewedBy = reviewer
	t := now.UTC()
	a.ReviewedAt = &t
	return nil
}
