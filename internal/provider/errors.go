package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError represents a provider error with its HTTP status and the
// structured {type, message} payload when the API supplied one.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// IsContentSafety reports whether the error is the provider's
// content-policy rejection, which triggers an automated corrective
// retry instead of surfacing to the user.
func IsContentSafety(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Type == "content_policy_violation" ||
		strings.Contains(strings.ToLower(apiErr.Message), "content policy")
}

// Categorize maps a provider error to a user-facing message keyed on
// HTTP status where available.
func Categorize(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "Request cancelled."
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return "Authentication failed. Check your API key in the settings."
		case 429:
			return "Rate limit reached. Wait a moment and try again."
		case 400:
			return fmt.Sprintf("The request was rejected by the model provider: %s", apiErr.Message)
		case 500, 502, 504:
			return "The model provider reported a server error. Try again shortly."
		case 503, 529:
			return "The model provider is temporarily unavailable or overloaded."
		}
		return fmt.Sprintf("Model provider error (%d): %s", apiErr.StatusCode, apiErr.Message)
	}

	return fmt.Sprintf("Unexpected error: %v", err)
}

// isRetryable reports whether the error should trigger a retry.
func isRetryable(err error, statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504, 529:
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if err != nil {
		msg := err.Error()
		for _, pattern := range []string{"timeout", "connection refused", "connection reset", "no such host", "EOF"} {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}
