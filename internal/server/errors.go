package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/chm/internal/types"
)

// Error codes used in the API error envelope.
const (
	CodeNotFound        = "not_found"
	CodeValidationError = "validation_error"
	CodeUnauthorized    = "unauthorized"
	CodeConflict        = "conflict"
	CodeInternalError   = "internal_error"
)

// ErrorDetail points at the field responsible for a validation failure.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ErrorBody is the inner error object of the API error envelope.
type ErrorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorEnvelope is the uniform error response shape: every API error is
// `{"error": {"code": ..., "message": ..., "details": [...]}}`.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// validationDetails converts validator and cross-field errors into envelope
// details. Unknown error shapes yield no details.
func validationDetails(err error) []ErrorDetail {
	var crossErr *types.CrossFieldError
	if errors.As(err, &crossErr) {
		return []ErrorDetail{{Field: crossErr.Field, Issue: crossErr.Message}}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]ErrorDetail, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			issue := "failed rule " + fe.Tag()
			if fe.Param() != "" {
				issue += "=" + fe.Param()
			}
			details = append(details, ErrorDetail{Field: fe.Field(), Issue: issue})
		}
		return details
	}
	return nil
}

func statusForCode(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
