// Package router implements the Provider Router / Failover Core (C4): the
// central state machine that turns a conversation into an outbound call
// against one of the configured provider clients, fails over to the next
// candidate on a retryable outcome, and schedules a return to the preferred
// provider once it recovers.
//
// The router never performs a provider's own retries — that discipline
// belongs to the provider client (C1) and stays there. Router failover is a
// strictly cross-provider decision: a provider is tried at most once per
// route_generate_text call, and the next candidate is only attempted after
// the current one exhausts its own internal retry budget.
package router
