// Package errors defines the error taxonomy shared by the keygate server and
// client.
//
// Every failure carries a stable wire code (KEY_REVOKED, ORDER_66, ...), the
// HTTP status it maps to and a Kind telling the caller how to react:
//
//	not-found            the key does not exist
//	forbidden-terminal   revoked, expired or killed; stop and wipe local trust
//	forbidden-transient  binding or liveness problem; ask the user to act
//	request-integrity    stale timestamp or bad signature
//	server-fault         store outage or bug; retry later
//
// The kill verdict (ORDER_66) is delivered with HTTP 200 so clients treat it
// as a successful response carrying a negative decision.
package errors
