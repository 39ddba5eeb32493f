package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FieldError is one entry of a structured validation response.
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type,omitempty"`
}

// Path joins the location segments with dots, dropping the leading "body".
func (f FieldError) Path() string {
	var parts []string
	for i, l := range f.Loc {
		s := fmt.Sprint(l)
		if i == 0 && (s == "body" || s == "query" || s == "path") && len(f.Loc) > 1 {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

// APIError is a non-2xx response from the deployment API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
	Validation []FieldError
	Body       string
}

func (e *APIError) Error() string {
	switch {
	case len(e.Validation) > 0:
		return fmt.Sprintf("API error (%d): %d validation errors", e.StatusCode, len(e.Validation))
	case e.Message != "":
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
	}
}

// IsUnauthorized reports whether err is a 401 from the deployment API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the deployment API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// errorBody covers the error shapes the API produces: the standard envelope,
// HTTPException detail strings and request validation detail arrays.
type errorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
}

type errorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func parseError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(raw))}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return apiErr
	}

	if len(body.Detail) > 0 {
		var fields []FieldError
		var msg string
		if err := json.Unmarshal(body.Detail, &fields); err == nil && len(fields) > 0 {
			apiErr.Validation = fields
		} else if err := json.Unmarshal(body.Detail, &msg); err == nil {
			apiErr.Message = msg
		}
	}

	if len(body.Error) > 0 && string(body.Error) != "null" {
		var obj errorObject
		if err := json.Unmarshal(body.Error, &obj); err == nil {
			apiErr.Code = obj.Code
			apiErr.Details = obj.Details
			if apiErr.Message == "" {
				apiErr.Message = obj.Message
			}
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = body.Message
	}
	return apiErr
}
