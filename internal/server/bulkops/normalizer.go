package bulkops

import (
	"github.com/goccy/go-json"

	"github.com/wlan-tools/bulkops-backend/internal/domain"
)

// maxFallbackMessageLength bounds how much of an unrecognized error string is stored.
const maxFallbackMessageLength = 150

// remoteErrorEnvelope mirrors the error JSON shape returned by the remote
// network-management API. Fields the API omits simply stay zero-valued.
type remoteErrorEnvelope struct {
	RequestId string `json:"requestId"`

	Error   string `json:"error"`
	Message string `json:"message"`

	ActivityDetails *struct {
		ActivityId string `json:"activityId"`
		Status     string `json:"status"`

		// Error is itself a JSON document serialized into a string, of the shape
		// {"errors":[{"message":"..."}]}.
		Error string `json:"error"`

		Steps []struct {
			Description string `json:"description"`
			Status      string `json:"status"`
			Error       string `json:"error"`
		} `json:"steps"`
	} `json:"activityDetails"`

	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// nestedErrorList is the shape of the doubly-encoded document carried inside
// activityDetails.error.
type nestedErrorList struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// NormalizeRemoteError maps a raw error from the remote API into the message stored on
// the failed operation. The remote API buries the actually-useful message several layers
// deep, sometimes as JSON-within-JSON, so extraction is tried from the most specific
// location to the least:
//
//  1. activityDetails.error, a string containing a serialized {"errors":[{"message":...}]}
//     document; the first entry's message wins.
//  2. the top-level errors list, first entry's message.
//  3. the first failed step in activityDetails.steps.
//  4. the top-level error or message field.
//  5. the raw error string, truncated.
//
// Extraction is deterministic and side-effect free; the same error always yields the
// same message.
func NormalizeRemoteError(err error) domain.NormalizedOutcome {
	if err == nil {
		return domain.NormalizedOutcome{}
	}

	raw := err.Error()

	var envelope remoteErrorEnvelope
	if jsonErr := json.Unmarshal([]byte(raw), &envelope); jsonErr != nil {
		return domain.NormalizedOutcome{Message: truncateMessage(raw)}
	}

	outcome := domain.NormalizedOutcome{}
	if envelope.ActivityDetails != nil {
		outcome.ActivityId = envelope.ActivityDetails.ActivityId
	}

	if message := extractMessage(&envelope); message != "" {
		outcome.Message = message
		return outcome
	}

	outcome.Message = truncateMessage(raw)
	return outcome
}

func extractMessage(envelope *remoteErrorEnvelope) string {
	if envelope.ActivityDetails != nil && envelope.ActivityDetails.Error != "" {
		var nested nestedErrorList
		if err := json.Unmarshal([]byte(envelope.ActivityDetails.Error), &nested); err == nil {
			if len(nested.Errors) > 0 && nested.Errors[0].Message != "" {
				return nested.Errors[0].Message
			}
		}

		// Not the doubly-encoded shape. The string itself is still the most specific
		// information available.
		return truncateMessage(envelope.ActivityDetails.Error)
	}

	if len(envelope.Errors) > 0 && envelope.Errors[0].Message != "" {
		return envelope.Errors[0].Message
	}

	if envelope.ActivityDetails != nil {
		for _, step := range envelope.ActivityDetails.Steps {
			if step.Status == "FAILED" || step.Error != "" {
				if step.Error != "" {
					return truncateMessage(step.Error)
				}
				if step.Description != "" {
					return step.Description
				}
			}
		}
	}

	if envelope.Error != "" {
		return envelope.Error
	}

	return envelope.Message
}

func truncateMessage(message string) string {
	if len(message) > maxFallbackMessageLength {
		return message[:maxFallbackMessageLength]
	}

	return message
}

// NormalizeRemoteResult maps a successful remote result into its stored shape, recovering
// the remote activity id when the result carries one.
func NormalizeRemoteResult(result interface{}) domain.NormalizedOutcome {
	outcome := domain.NormalizedOutcome{Details: result}

	type activityCarrier interface {
		GetActivityId() string
	}
	if carrier, ok := result.(activityCarrier); ok {
		outcome.ActivityId = carrier.GetActivityId()
	}

	return outcome
}
