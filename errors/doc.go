// Package errors provides the structured error taxonomy for taskgate. Every
// failure returned by the gateway, the session manager or the task store is
// an *Error carrying a message, a code, an HTTP status and the raw server
// payload.
//
// # Kinds
//
// Errors are classified by where they happened:
//
//   - network: the request never produced a response (status 0)
//   - timeout: the per-request timeout or the caller's deadline expired (408)
//   - canceled: the caller canceled the request
//   - auth: the session is missing or could not be renewed (401)
//   - validation: the server rejected the request (other 4xx)
//   - server: the server failed (5xx)
//
// # Codes
//
// The code is the server's "error_code" when the response carries one
// (for example DATABASE_OFFLINE), otherwise a client code derived from the
// status such as NOT_FOUND or VALIDATION_ERROR.
//
// # Usage
//
//	resp, err := client.Call(ctx, http.MethodGet, "/tasks/42", nil)
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // show "not found"
//	}
//	if errors.IsAuth(err) {
//	    // session expired; send the user to sign in
//	}
//
// Errors serialize to JSON for logging and event publication:
//
//	data, _ := json.Marshal(apiErr)
package errors
