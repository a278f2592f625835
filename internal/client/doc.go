// Package client is the consuming side of keygate: the verification engine
// that keeps a device's license verdict current, the hardware companion
// agent that proves liveness, and the HTTP clients both use.
//
// # Session States
//
//	NoLicense ──Activate──▶ Verifying ──▶ Active
//	                                  ├──▶ Inactive(reason)
//	                                  └──▶ Blocked
//
// Every transition goes through Engine and is published to listeners, which
// is how the protection controller learns when to enable or disable
// enforcement.
//
// # Outcome Classes
//
// Server answers are classified by code, never by message:
//
//   - KEY_REVOKED, ORDER_66: wipe the cache, Blocked
//   - KEY_EXPIRED, KEY_NOT_FOUND, INVALID_SIGNATURE, EXPIRED_REQUEST: wipe, Inactive
//   - MAC_NOT_BOUND, HEARTBEAT_TIMEOUT, MAC_MISMATCH, DEVICE_MISMATCH:
//     Inactive with an action required, cache kept
//   - store or network faults: retried, then the previous verdict stands
//
// A cache whose checksum does not match is always treated as tampered.
package client
