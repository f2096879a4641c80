package server

import (
	"net/http"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/anchorstore"
	"github.com/openanchor/anchorsvc/challenge"
	"github.com/openanchor/anchorsvc/delegation"
	phttp "github.com/openanchor/anchorsvc/pkg/http"
	"github.com/openanchor/anchorsvc/ratelimit"
	"github.com/openanchor/anchorsvc/registration"
)

// writeDomainError maps a typed domain error to the HTTP status and
// JSON body its error class warrants. Anything not recognized here is
// a programming error or corrupted-state condition and is re-panicked
// so gorilla/handlers.RecoveryHandler turns it into a 500 rather than
// silently succeeding against an inconsistent state.
func writeDomainError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *anchor.DuplicateDeviceError,
		*anchor.NotFoundError,
		*anchor.CannotModifyDeviceKeyError,
		*anchor.TooManyDevicesError,
		*anchor.VariableLengthFieldsTooLargeError,
		*anchor.MultipleRecoveryPhrasesError,
		*anchor.InvalidDeviceProtectionError,
		*anchor.DeviceLimitExceededError:
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
	case *anchor.MutationNotAllowedError, *UnauthorizedError:
		phttp.WriteError(w, http.StatusForbidden, err.Error())

	case *anchorstore.NotFoundError:
		phttp.WriteError(w, http.StatusNotFound, err.Error())
	case *anchorstore.OutOfRangeError:
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
	case *anchorstore.AnchorRangeExhaustedError:
		phttp.WriteError(w, http.StatusServiceUnavailable, err.Error())

	case *registration.NotInProgressError:
		phttp.WriteError(w, http.StatusConflict, err.Error())
	case *registration.AlreadyInProgressError:
		phttp.WriteError(w, http.StatusConflict, err.Error())
	case *registration.AnotherDeviceTentativelyAddedError:
		phttp.WriteError(w, http.StatusConflict, err.Error())

	case *challenge.BusyError:
		phttp.WriteError(w, http.StatusServiceUnavailable, err.Error())

	case *ratelimit.RateLimitedError:
		phttp.WriteError(w, http.StatusTooManyRequests, err.Error())

	case *delegation.SaltNotInitializedError:
		phttp.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case *delegation.NotReadyError:
		phttp.WriteError(w, http.StatusNotFound, err.Error())
	case *delegation.UnauthorizedError:
		phttp.WriteError(w, http.StatusForbidden, err.Error())

	default:
		panic(err)
	}
}
