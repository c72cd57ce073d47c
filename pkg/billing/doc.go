// Package billing plans subscription changes and commits them exactly once.
//
// A change goes through three phases:
//
//	intent := billing.ChangeIntent{Signal: billing.SignalChangeQuantity, SubscriptionItemID: "si_1", QuantityDelta: &delta}
//	preview, err := planner.Plan(ctx, snapshot, intent)   // pure, no side effects
//	result, err := committer.Commit(ctx, preview)          // idempotent by preview.CommitDescriptor
//
// Plan returns a disabled preview with a displayable reason when the change
// cannot be computed for this subscription (unknown price, currency mismatch,
// unknown item). Malformed price configuration is returned as an error.
//
// Descriptors are HMACs under the DescriptorSigner's secret, so a preview
// edited by a client no longer verifies and Commit rejects it.
//
// Commit records every outcome in a ResultStore keyed by the commit
// descriptor. Recorded applied and failed results are replayed. Gateway
// failures surface as StatusFailed (terminal) or StatusPending (safe to
// resubmit); a commit that outlives the configured timeout is reported as
// pending and its eventual outcome is recorded for Lookup.
package billing
