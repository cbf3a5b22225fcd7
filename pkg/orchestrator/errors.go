package orchestrator

import (
	"errors"
	"fmt"
)

// RejectionCode classifies why an order was refused at submission.
// Rejections are permanent: resubmitting the same request without
// fixing the cause yields the same answer.
type RejectionCode string

const (
	CodeTemplateNotFound     RejectionCode = "TEMPLATE_NOT_FOUND"
	CodeFlavorNotFound       RejectionCode = "FLAVOR_NOT_FOUND"
	CodeRegionNotFound       RejectionCode = "REGION_NOT_FOUND"
	CodePluginNotFound       RejectionCode = "PLUGIN_NOT_FOUND"
	CodeServiceNotFound      RejectionCode = "SERVICE_NOT_FOUND"
	CodeCredentialsNotFound  RejectionCode = "CREDENTIALS_NOT_FOUND"
	CodeCredentialIncomplete RejectionCode = "CREDENTIAL_INCOMPLETE"
	CodeVariableValidation   RejectionCode = "VARIABLE_VALIDATION_FAILED"
	CodeServiceLocked        RejectionCode = "SERVICE_LOCKED"
	CodeInvalidServiceState  RejectionCode = "INVALID_SERVICE_STATE"
	CodePolicyDenied         RejectionCode = "POLICY_DENIED"
	CodeInvalidRequest       RejectionCode = "INVALID_REQUEST"
)

// RejectionError is returned when a submission is refused before an
// order is created. Nothing is persisted for a rejected submission.
type RejectionError struct {
	Code    RejectionCode
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// reject builds a RejectionError with a formatted message.
func reject(code RejectionCode, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// rejectWrap builds a RejectionError preserving the cause.
func rejectWrap(code RejectionCode, err error, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsRejection extracts a RejectionError from an error chain.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
