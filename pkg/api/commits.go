package api

import (
	"net/http"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/observability"
)

// CommitRequest carries a preview exactly as the preview endpoint returned it
type CommitRequest struct {
	Preview *billing.ChangePreview `json:"preview"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Preview == nil {
		httputil.WriteBadRequest(w, "preview is required")
		return
	}

	ctx := r.Context()
	if req.Preview.SubscriptionID != "" {
		ctx = observability.WithSubscriptionID(ctx, req.Preview.SubscriptionID)
		r = r.WithContext(ctx)
	}

	result, err := s.committer.Commit(ctx, req.Preview)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, commitStatus(result), result)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	raw, ok := httputil.ParsePathStringOrError(w, r, "descriptor")
	if !ok {
		return
	}
	descriptor := billing.CommitDescriptor(raw)
	if !descriptor.Valid() {
		httputil.WriteBadRequest(w, "invalid commit descriptor")
		return
	}

	result, err := s.committer.Lookup(r.Context(), descriptor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, commitStatus(result), result)
}

// commitStatus is 202 while the outcome is unknown, 200 once it is final
func commitStatus(result *billing.ChangeResult) int {
	if result.Status == billing.StatusPending {
		return http.StatusAccepted
	}
	return http.StatusOK
}
