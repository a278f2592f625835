// Package http implements the keygate HTTP handlers. Handlers are a thin
// layer over the license service: they decode and validate the request,
// call one service operation and render the result or the error body.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → license.Service → KeyStore
//	                                             ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// # Error Handling
//
// Every failure is rendered by errors.ErrorHandler as
//
//	{"success": false, "valid": false, "error": "...", "code": "KEY_REVOKED", "blocked": true}
//
// The kill verdict is the exception to the 4xx rule: it is answered with 200
// and "kill": true so clients treat it as a definitive answer rather than a
// transport failure.
//
// # Authentication
//
// Client routes are authenticated by key possession and, where configured,
// a request signature checked inside the service. Admin routes sit behind
// middleware.AdminAuth.
package http
