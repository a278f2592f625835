// Package license implements the server-side license record state machine.
//
// A record moves through unbound → device-bound / hardware-bound and is, at
// any instant, active, expired or revoked. Status is derived on every read by
// DeriveStatus and never stored. The kill switch is orthogonal to status: a
// killed key still reports "active" in listings but every client request is
// answered with the kill verdict.
//
// When several fail-conditions hold at once the reported one follows a fixed
// priority:
//
//	not-found → revoked → kill switch → expired → hardware mismatch
//	  → device mismatch → (binding) → heartbeat staleness
//
// Bindings are first-writer-wins through the store's HSetNX; only
// ResetBinding can clear them.
package license
