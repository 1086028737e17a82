package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	smithy "github.com/aws/smithy-go"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// ClassifyFailure maps a pipeline failure to a structured error with a
// stable code. The orchestrator journals the code and a sanitized message;
// the full error is only logged server-side.
//
// Classes, in precedence order: credential/configuration problems, provider
// throttling, provider access denial, timeouts, then a catch-all runtime
// class carrying the error's Go type name.
func ClassifyFailure(err error) *schema.Error {
	if err == nil {
		return nil
	}

	// Already classified upstream.
	var serr *schema.Error
	if errors.As(err, &serr) {
		return serr
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
			return schema.NewError(schema.ErrCodeCredentials,
				"AWS credentials are missing or invalid").WithCause(err)
		case "ThrottlingException", "TooManyRequestsException", "Throttling", "RequestLimitExceeded":
			return schema.NewErrorf(schema.ErrCodeThrottled,
				"provider throttled the request (%s)", code).WithCause(err)
		case "AccessDeniedException":
			return schema.NewError(schema.ErrCodeAccessDenied,
				"provider denied access to the requested resource").WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeRuntime,
			"provider error %s: %s", code, apiErr.ErrorMessage()).WithCause(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "pipeline deadline exceeded").WithCause(err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no credentials") || strings.Contains(msg, "failed to retrieve credentials") ||
		strings.Contains(msg, "credential provider") {
		return schema.NewError(schema.ErrCodeCredentials,
			"AWS credentials are missing or invalid").WithCause(err)
	}

	return schema.NewErrorf(schema.ErrCodeRuntime,
		"%T: %s", err, err.Error()).WithCause(err)
}

// FailureMessage renders the journal-safe description of a classified
// failure: the code plus the sanitized message, never internal detail.
func FailureMessage(serr *schema.Error) string {
	if serr == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", serr.Code, serr.Message)
}
