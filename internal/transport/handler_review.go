package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/hibah/internal/audit"
	"github.com/pitabwire/hibah/internal/lifecycle"
	"github.com/pitabwire/hibah/internal/review"
	"github.com/pitabwire/hibah/model"
)

// ReviewService is the reviewer side of the BFF.
type ReviewService interface {
	Load(ctx context.Context, sess *model.Session, ref lifecycle.Ref, proposalID string) (*review.View, error)
	Submit(ctx context.Context, sess *model.Session, ref lifecycle.Ref, d review.Decision) (*review.Result, error)
	History(ctx context.Context, sess *model.Session, ref lifecycle.Ref, proposalID string) ([]audit.Entry, error)
}

func handleGetReview(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		v, err := svc.Load(r.Context(), sess, stageRef(r), r.URL.Query().Get("proposal"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleSubmitReview(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		var body decisionRequest
		if err := decodeJSON(w, r, &body); err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.Submit(r.Context(), sess, stageRef(r), review.Decision{
			ProposalID:     body.ProposalID,
			Comment:        body.Comment,
			Status:         model.ProposalStatus(body.Status),
			Score:          *body.Score,
			ToolFlags:      body.ToolFlags,
			IncentiveFlags: body.IncentiveFlags,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleReviewHistory(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		entries, err := svc.History(r.Context(), sess, stageRef(r), r.URL.Query().Get("proposal"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
	}
}
