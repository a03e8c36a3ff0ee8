package transfer

import "fmt"

// AuthenticationError represents a daemon session failure: the login call
// itself was rejected, or a call failed with 401/403 because the session
// cookie is absent or expired.
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport-level failures and non-auth API errors
// including 5xx responses and connection timeouts.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "add_transfer", "list_transfers")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError represents an unexpected daemon response shape, such as a
// body that is not the JSON the endpoint documents.
type ProtocolError struct {
	Operation string // The operation whose response could not be decoded
	Reason    string // Human-readable explanation of the decode failure
	Err       error  // Underlying error, if any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s", e.Operation, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that a transfer disappeared from the daemon between
// submission and tracking start.
type NotFoundError struct {
	Hash string // The hash that was looked up; empty when the whole listing came back empty
}

func (e *NotFoundError) Error() string {
	if e.Hash == "" {
		return "transfer not found"
	}

	return fmt.Sprintf("transfer not found: %s", e.Hash)
}
