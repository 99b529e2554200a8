package model

import "math"

// DefaultTransferThreshold is the completion percentage at which a session may
// be handed to the licensed agent.
const DefaultTransferThreshold = 76

// Progress returns round(100 * verified / total), or 0 when total is 0.
func Progress(verified, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(verified) / float64(total)))
}

// ItemProgress counts verified items and returns the completion percentage.
func ItemProgress(items []*Item) int {
	verified := 0
	for _, it := range items {
		if it.IsVerified {
			verified++
		}
	}
	return Progress(verified, len(items))
}

// TransferPolicy decides when the transfer action is available.
type TransferPolicy struct {
	Threshold int
}

// DefaultTransferPolicy returns the policy with the standard threshold.
func DefaultTransferPolicy() TransferPolicy {
	return TransferPolicy{Threshold: DefaultTransferThreshold}
}

// Check returns nil when sess may be transferred at the given progress, or a
// *GateError listing every unmet condition.
func (p TransferPolicy) Check(sess *Session, progress int) error {
	var reasons []string
	if progress < p.Threshold {
		reasons = append(reasons, "progress below threshold")
	}
	if !sess.HasBufferAgent() {
		reasons = append(reasons, "no buffer agent on session")
	}
	if sess.Status == StatusTransferred {
		reasons = append(reasons, "session already transferred")
	} else if !sess.Status.CanTransitionTo(StatusTransferred) {
		reasons = append(reasons, "session is "+string(sess.Status))
	}
	if len(reasons) > 0 {
		return &GateError{SessionID: sess.ID, Progress: progress, Threshold: p.Threshold, Reasons: reasons}
	}
	return nil
}

// Allows reports whether the transfer action should be exposed.
func (p TransferPolicy) Allows(sess *Session, progress int) bool {
	return p.Check(sess, progress) == nil
}
