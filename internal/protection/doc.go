// Package protection turns the client session state into an enforcement
// decision: Active enables enforcement, every other state disables it.
//
// The Controller reconciles at start, on every session transition and
// periodically, so an enforcing process that restarted with stale state is
// corrected within one interval.
package protection
