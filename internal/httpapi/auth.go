package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/schema"
	"github.com/agentworkforce/liftrelay/internal/workout"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeLink checks the token and freshness of a signed request. It runs
// before any store call.
func authorizeLink(v capability.Verifier, signed signedRequest) (capability.Grant, *authError) {
	grant, err := v.Authorize(signed.params, signed.token)
	if err != nil {
		return capability.Grant{}, toAuthError(err)
	}
	return grant, nil
}

// toAuthError maps any handler error to its response status and code.
func toAuthError(err error) *authError {
	var ae *authError
	if errors.As(err, &ae) {
		return ae
	}
	var partial *docstore.PartialDeleteError
	var storeErr *docstore.StoreError
	switch {
	case errors.Is(err, capability.ErrMissingParameter),
		errors.Is(err, capability.ErrInvalidTimestamp),
		errors.Is(err, workout.ErrInvalidArgument),
		errors.Is(err, workout.ErrInvalidScope),
		errors.Is(err, workout.ErrNoValidDays),
		errors.Is(err, schema.ErrInvalidDocument),
		errors.Is(err, docstore.ErrInvalidPath):
		return &authError{status: http.StatusBadRequest, code: "bad_request", message: err.Error()}
	case errors.Is(err, capability.ErrInvalidSignature):
		return &authError{status: http.StatusForbidden, code: "invalid_signature", message: "invalid or tampered link"}
	case errors.Is(err, capability.ErrExpired):
		return &authError{status: http.StatusGone, code: "expired", message: "this link has expired"}
	case errors.Is(err, capability.ErrServerMisconfigured):
		return &authError{status: http.StatusInternalServerError, code: "server_misconfig", message: err.Error()}
	case errors.As(err, &partial):
		return &authError{
			status:  http.StatusInternalServerError,
			code:    "partial_failure",
			message: fmt.Sprintf("deleted %d document(s) before failing: %v", partial.Deleted, partial.Err),
		}
	case errors.Is(err, docstore.ErrConflict):
		return &authError{status: http.StatusInternalServerError, code: "conflict", message: err.Error()}
	case errors.As(err, &storeErr):
		return &authError{
			status:  http.StatusInternalServerError,
			code:    "store_error",
			message: fmt.Sprintf("document store returned %d: %s", storeErr.StatusCode, storeErr.Message),
		}
	default:
		return &authError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()}
	}
}
