package llm

import "fmt"

// AuthError indicates the provider rejected the API key. Fatal for the turn.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("llm auth error: %s", e.Message)
}

// RateLimitError indicates the provider rate limit held after retries.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm rate limit: %s", e.Message)
}

// BadResponseError indicates the provider returned something the gateway
// could not interpret (empty choices, malformed JSON, schema violation).
type BadResponseError struct {
	Message string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("llm bad response: %s", e.Message)
}

// NetworkError indicates the request never produced a usable HTTP response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("llm network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
