package portal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorItem is one entry of an App Store Connect error response.
//
// https://developer.apple.com/documentation/appstoreconnectapi/errorresponse
type ErrorItem struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// APIError is returned for non-2xx portal responses.
type APIError struct {
	StatusCode int
	Errors     []ErrorItem
	// Body holds the start of the raw response when it could not be decoded.
	Body string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		if e.Body != "" {
			return fmt.Sprintf("App Store Connect returned status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("App Store Connect returned status %d", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msg := item.Title
		if item.Detail != "" {
			msg += ": " + item.Detail
		}
		if item.Code != "" {
			msg += " (" + item.Code + ")"
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("App Store Connect returned status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var resp struct {
		Errors []ErrorItem `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Errors) > 0 {
		apiErr.Errors = resp.Errors
		return apiErr
	}
	if len(body) > 1000 {
		body = body[:1000]
	}
	apiErr.Body = string(body)
	return apiErr
}

func retryable(status int) bool {
	return status == 429 || status >= 500
}
