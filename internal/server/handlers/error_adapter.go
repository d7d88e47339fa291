// Package handlers implements the HTTP endpoints served by the gostudio
// facade: job submission and status, the merged feed, health probes, and
// version info.
package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/gostudio/internal/errors"
)

// httpErrorResponder writes error responses for handlers. Tests swap it
// out to observe classification without a full middleware stack.
var httpErrorResponder = defaultHTTPErrorResponder

func defaultHTTPErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// SetHTTPErrorResponder overrides how handler errors are written. Passing
// nil restores the default.
func SetHTTPErrorResponder(f func(http.ResponseWriter, *http.Request, error)) {
	if f == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = f
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultHTTPErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
