package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allCodes = []any{
	CodeValidationError,
	CodeNotFound,
	CodeUnauthorized,
	CodeSessionExpired,
	CodeForbidden,
	CodeInternalError,
	CodeConflict,
	CodeDeploymentRejected,
	CodeUpstreamError,
}

// **Feature: deployment-portal, Property 13: Structured Gateway Errors**
// *For any* gateway error, the response body SHALL contain code, message and
// request_id strings, and the HTTP status SHALL be the one derived from the
// code unless explicitly overridden.
func TestPropertyStructuredErrorResponse(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genCode := gen.OneConstOf(allCodes...)
	genMessage := gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 })
	genRequestID := gen.RegexMatch("[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}")

	properties.Property("response carries code, message and request_id", prop.ForAll(
		func(code, message, requestID string) bool {
			rr := httptest.NewRecorder()
			WriteErrorWithRequestID(rr, New(code, message), requestID)

			var body map[string]any
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Logf("decode: %v", err)
				return false
			}
			return body["code"] == code &&
				body["message"] == message &&
				body["request_id"] == requestID &&
				rr.Header().Get("Content-Type") == "application/json"
		},
		genCode, genMessage, genRequestID,
	))

	properties.Property("status follows the code", prop.ForAll(
		func(code string) bool {
			err := New(code, "x")
			rr := httptest.NewRecorder()
			WriteError(rr, err)
			return rr.Code == err.HTTPStatusCode() && rr.Code >= 400
		},
		genCode,
	))

	properties.Property("explicit status wins", prop.ForAll(
		func(code string, status int) bool {
			rr := httptest.NewRecorder()
			WriteError(rr, New(code, "x").WithStatus(status))
			return rr.Code == status
		},
		genCode, gen.IntRange(400, 599),
	))

	properties.TestingRun(t)
}

func TestValidationErrorsToAPIError(t *testing.T) {
	var v ValidationErrors
	if v.HasErrors() {
		t.Fatal("empty collection should have no errors")
	}
	v.Add("resource_group", "resource group is required")
	v.Add("location", "location is required")

	apiErr := v.ToAPIError()
	if apiErr.Code != CodeValidationError {
		t.Errorf("code = %s", apiErr.Code)
	}
	if apiErr.Message != "resource group is required (and 1 more errors)" {
		t.Errorf("message = %q", apiErr.Message)
	}
	fields, ok := apiErr.Details["fields"].(ValidationErrors)
	if !ok || len(fields) != 2 || fields[1].Field != "location" {
		t.Errorf("details = %#v", apiErr.Details)
	}
}

func TestSessionExpiredIsUnauthorized(t *testing.T) {
	if got := NewSessionExpiredError().HTTPStatusCode(); got != http.StatusUnauthorized {
		t.Errorf("status = %d", got)
	}
	if got := NewUpstreamError("down").HTTPStatusCode(); got != http.StatusBadGateway {
		t.Errorf("status = %d", got)
	}
}

func TestErrorLogEntryCompleteness(t *testing.T) {
	entry := NewErrorLogEntry("req-1", CodeInternalError, "panic recovered")
	attrs := entry.ToSlogAttrs()
	if len(attrs) != 8 {
		t.Fatalf("expected 4 key/value pairs, got %d items", len(attrs))
	}
	if entry.StackTrace == "" {
		t.Error("stack trace should be captured")
	}
}
