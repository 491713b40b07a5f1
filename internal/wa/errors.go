package wa

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is a non-2xx Cloud API response.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wa: api error status=%d code=%d subcode=%d: %s",
		e.StatusCode, e.Code, e.Subcode, e.Message)
}

// WindowClosed reports whether the error means the 24h customer service
// window is closed, i.e. only template messages are deliverable.
func (e *APIError) WindowClosed() bool {
	if e.Code == 470 {
		return true
	}
	switch e.Subcode {
	case 2018041, 2018042, 2018046:
		return true
	}
	return false
}

// Retryable reports whether a send is worth retrying (rate limited or
// provider-side failure). Window-closed and other 4xx errors are not.
func (e *APIError) Retryable() bool {
	if e.WindowClosed() {
		return false
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsWindowClosed unwraps err looking for a window-closed APIError.
func IsWindowClosed(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.WindowClosed()
}

func parseAPIError(status int, body []byte) *APIError {
	out := &APIError{StatusCode: status, Message: string(body)}

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		out.Message = payload.Error.Message
		out.Code = payload.Error.Code
		out.Subcode = payload.Error.Subcode
	}
	return out
}
