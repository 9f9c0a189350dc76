package domain

import "time"

// PolicyRule is an operator-defined escalation rule evaluated after alert
// synthesis. The expression is CEL over the transaction and detector
// outputs; when it evaluates true the recommended action is raised to at
// least the rule's action. Policies can escalate, never relax.
type PolicyRule struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenantId"`
	Jurisdiction string `json:"jurisdiction,omitempty"` // empty = all
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Version      string `json:"version"`

	// CEL expression; must return bool.
	Expression string `json:"expression"`

	// Action floor when the expression matches.
	Action Action `json:"action"`

	// Reason surfaces on the synthesized alert's evidence.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
