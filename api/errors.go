package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/volarelabs/flightcast/auth"
	"github.com/volarelabs/flightcast/forecast/canonical"
	"github.com/volarelabs/flightcast/forecast/selector"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/store"
	"github.com/volarelabs/flightcast/submit"
)

var (
	// ErrBadRequest is returned when the provided HTTP request
	// is malformed.
	ErrBadRequest = errors.New("invalid request parameters")
)

// HttpCodeForError maps a service error to its HTTP status code.
func HttpCodeForError(err error) int {
	var validationErr *canonical.ValidationError

	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, submit.ErrRevealMismatch),
		errors.Is(err, ledger.ErrRevealMismatch),
		errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNonceNotFound),
		errors.Is(err, auth.ErrNonceExpired),
		errors.Is(err, auth.ErrSignatureMismatch),
		errors.Is(err, auth.ErrMalformedSignature),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrSessionMismatch),
		errors.Is(err, ledger.ErrNotFunded),
		errors.Is(err, ledger.ErrNotJoined):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrWrongPhase),
		errors.Is(err, ledger.ErrAlreadyJoined),
		errors.Is(err, ledger.ErrAlreadyRevealed),
		errors.Is(err, ledger.ErrRandomnessNotLocked),
		errors.Is(err, ledger.ErrSeedNotRevealed),
		errors.Is(err, ledger.ErrSeedAlreadyRevealed),
		errors.Is(err, ledger.ErrAlreadyFinalized),
		errors.Is(err, selector.ErrNoCommits),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HumanReadableError is the JSON error body.
type HumanReadableError struct {
	Msg string `json:"msg"`
}

// HumanReadableJsonErrorHandler renders any error as human-readable JSON
// to the HTTP response stream `w`.
func HumanReadableJsonErrorHandler(w http.ResponseWriter, err error) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("x-content-type-options", "nosniff")
	w.WriteHeader(HttpCodeForError(err))

	_ = json.NewEncoder(w).Encode(HumanReadableError{Msg: err.Error()})
}
