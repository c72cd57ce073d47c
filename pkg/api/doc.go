// Package api serves the pricing and billing-change engine over HTTP.
//
// Routes:
//
//	POST /v1/quotes                        price one quantity, or a batch under "quotes"
//	POST /v1/subscriptions/{id}/preview    plan a change against the posted subscription state
//	POST /v1/commits                       commit an enabled preview exactly once
//	GET  /v1/commits/{descriptor}          re-query the recorded result of a commit
//
// Health probes and /metrics are registered by the server binary on its
// health port. Calculator and storage errors are mapped to generic messages;
// their details only reach the logs.
package api
