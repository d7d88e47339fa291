package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/3leaps/gostudio/internal/errors"
	"github.com/3leaps/gostudio/pkg/tracker"
)

// FeedProvider supplies the merged generation feed. *feed.Loader
// satisfies it.
type FeedProvider interface {
	Load(ctx context.Context, reset bool) error
	Items() []tracker.JobRecord
	HasMore() bool
}

// FeedResponse is the body returned by GET /api/v1/feed.
type FeedResponse struct {
	Items   []tracker.JobRecord `json:"items"`
	Count   int                 `json:"count"`
	HasMore bool                `json:"has_more"`
}

// NewFeedHandler serves GET /api/v1/feed. A plain GET reloads the feed
// from the top; ?more=true appends the next page instead.
func NewFeedHandler(provider FeedProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			respondWithError(w, r, &apperrors.AppError{
				Code:    apperrors.CodeServiceUnavailable,
				Message: "feed is not configured",
				Status:  http.StatusServiceUnavailable,
			})
			return
		}

		reset := r.URL.Query().Get("more") != "true"
		if err := provider.Load(r.Context(), reset); err != nil {
			respondWithError(w, r, err)
			return
		}

		items := provider.Items()
		writeJSON(w, http.StatusOK, FeedResponse{
			Items:   items,
			Count:   len(items),
			HasMore: provider.HasMore(),
		})
	}
}
