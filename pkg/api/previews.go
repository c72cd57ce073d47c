package api

import (
	"net/http"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/observability"
)

// PreviewRequest carries the current subscription state and the change to plan.
// The subscription id defaults to the one in the path.
type PreviewRequest struct {
	Subscription billing.SubscriptionState `json:"subscription"`
	Intent       billing.ChangeIntent      `json:"intent"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req PreviewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Subscription.ID == "" {
		req.Subscription.ID = id
	}
	if req.Subscription.ID != id {
		httputil.WriteBadRequest(w, "subscription id does not match the path")
		return
	}

	ctx := observability.WithSubscriptionID(r.Context(), id)
	r = r.WithContext(ctx)

	current, err := req.Subscription.Resolve(ctx, s.lookup)
	if err != nil {
		writeError(w, r, err)
		return
	}

	preview, err := s.planner.Plan(ctx, current, req.Intent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, billing.NewSubscriptionPreviewResult(id, preview))
}
