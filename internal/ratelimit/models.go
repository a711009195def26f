// Package ratelimit provides sliding-window rate limiting over the
// identifier classes the balloting surface cares about. Windows slide on
// real timestamps so bursts cannot straddle a fixed-window boundary.
package ratelimit

import (
	"fmt"
	"time"
)

// IdentifierClass names what the counter is keyed by.
type IdentifierClass string

const (
	ClassIP      IdentifierClass = "ip"
	ClassDevice  IdentifierClass = "device"
	ClassVoter   IdentifierClass = "voter"
	ClassAccount IdentifierClass = "account"
)

// Action names the operation being limited.
type Action string

const (
	ActionSubmitVote   Action = "submit_vote"
	ActionIssueNonce   Action = "issue_nonce"
	ActionQueryResults Action = "query_results"
)

// Limit is a count per window.
type Limit struct {
	Count  int
	Window time.Duration
}

// Result reports a limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Key builds the store key for one (action, class, identifier) counter.
func Key(action Action, class IdentifierClass, identifier string) string {
	return fmt.Sprintf("rl:%s:%s:%s", action, class, identifier)
}
