package errors

import "net/http"

// Wire codes returned in the "code" field of every error body.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeSignatureRequired = "SIGNATURE_REQUIRED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeKeyNotFound       = "KEY_NOT_FOUND"
	CodeKeyRevoked        = "KEY_REVOKED"
	CodeKill              = "ORDER_66"
	CodeKeyExpired        = "KEY_EXPIRED"
	CodeMACMismatch       = "MAC_MISMATCH"
	CodeDeviceMismatch    = "DEVICE_MISMATCH"
	CodeMACNotBound       = "MAC_NOT_BOUND"
	CodeHeartbeatTimeout  = "HEARTBEAT_TIMEOUT"
	CodeExpiredRequest    = "EXPIRED_REQUEST"
	CodeInvalidSignature  = "INVALID_SIGNATURE"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeRateLimited       = "RATE_LIMITED"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeTimeout           = "TIMEOUT"
	CodeServerError       = "SERVER_ERROR"
)

// Predefined errors. Use WithMessage, WithDetails or Wrap to specialise
// them; errors.Is matches on the code.
var (
	// 400
	ErrInvalidRequest    = New(http.StatusBadRequest, CodeInvalidRequest, KindInvalid, "Invalid request")
	ErrSignatureRequired = New(http.StatusBadRequest, CodeSignatureRequired, KindRequestIntegrity, "Signed request required")

	// 401
	ErrUnauthorized = New(http.StatusUnauthorized, CodeUnauthorized, KindUnauthorized, "Unauthorized")
	ErrInvalidToken = New(http.StatusUnauthorized, CodeInvalidToken, KindRequestIntegrity, "Invalid token")
	ErrTokenExpired = New(http.StatusUnauthorized, CodeTokenExpired, KindRequestIntegrity, "Token expired")

	// 404
	ErrKeyNotFound = New(http.StatusNotFound, CodeKeyNotFound, KindNotFound, "Invalid license key")
	ErrNotFound    = New(http.StatusNotFound, CodeNotFound, KindNotFound, "Resource not found")

	// 403 terminal
	ErrKeyRevoked = New(http.StatusForbidden, CodeKeyRevoked, KindForbiddenTerminal, "License has been revoked")
	ErrKeyExpired = New(http.StatusForbidden, CodeKeyExpired, KindForbiddenTerminal, "License has expired")

	// The kill verdict is a soft signal: the request itself succeeded.
	ErrKill = New(http.StatusOK, CodeKill, KindForbiddenTerminal, "License disabled by administrator")

	// 403 transient
	ErrMACMismatch      = New(http.StatusForbidden, CodeMACMismatch, KindForbiddenTransient, "License is bound to different hardware")
	ErrDeviceMismatch   = New(http.StatusForbidden, CodeDeviceMismatch, KindForbiddenTransient, "License is bound to a different device")
	ErrMACNotBound      = New(http.StatusForbidden, CodeMACNotBound, KindForbiddenTransient, "License must be activated with the companion first")
	ErrHeartbeatTimeout = New(http.StatusForbidden, CodeHeartbeatTimeout, KindForbiddenTransient, "Companion is not running")

	// 403 request integrity
	ErrExpiredRequest   = New(http.StatusForbidden, CodeExpiredRequest, KindRequestIntegrity, "Request timestamp outside the accepted window")
	ErrInvalidSignature = New(http.StatusForbidden, CodeInvalidSignature, KindRequestIntegrity, "Invalid request signature")

	// 405
	ErrMethodNotAllowed = New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, KindInvalid, "Method not allowed")

	// 429
	ErrRateLimited = New(http.StatusTooManyRequests, CodeRateLimited, KindRateLimited, "Rate limit exceeded")

	// 5xx
	ErrPersistenceFailed = New(http.StatusInternalServerError, CodePersistenceFailed, KindServerFault, "Store did not persist the update")
	ErrStoreUnavailable  = New(http.StatusServiceUnavailable, CodeStoreUnavailable, KindServerFault, "Key store unavailable")
	ErrTimeout           = New(http.StatusGatewayTimeout, CodeTimeout, KindServerFault, "Request timed out")
	ErrServer            = New(http.StatusInternalServerError, CodeServerError, KindServerFault, "Internal server error")
)

var byCode = map[string]*APIError{}

func init() {
	for _, e := range []*APIError{
		ErrInvalidRequest, ErrSignatureRequired, ErrUnauthorized, ErrInvalidToken,
		ErrTokenExpired, ErrKeyNotFound, ErrNotFound, ErrKeyRevoked, ErrKeyExpired,
		ErrKill, ErrMACMismatch, ErrDeviceMismatch, ErrMACNotBound, ErrHeartbeatTimeout,
		ErrExpiredRequest, ErrInvalidSignature, ErrMethodNotAllowed, ErrRateLimited,
		ErrPersistenceFailed, ErrStoreUnavailable, ErrTimeout, ErrServer,
	} {
		byCode[e.Code] = e
	}
}

// KindOf classifies a wire code. Unknown codes are server faults.
func KindOf(code string) Kind {
	if e, ok := byCode[code]; ok {
		return e.Kind
	}
	return KindServerFault
}

// Verdict flags carried next to the code in error bodies.

// IsKill reports the administrator kill verdict
func IsKill(code string) bool { return code == CodeKill }

// IsBlocked reports codes after which the client must stop trying.
func IsBlocked(code string) bool { return code == CodeKeyRevoked || code == CodeKill }

// RequiresActivation reports codes the user resolves by running the companion.
func RequiresActivation(code string) bool {
	return code == CodeMACNotBound || code == CodeHeartbeatTimeout
}
