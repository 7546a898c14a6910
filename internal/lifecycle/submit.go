package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/portal"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// Submission modes used in metrics.
const (
	ModeCreate = "create"
	ModeUpdate = "update"
)

// SubmitResult reports a successful submit.
type SubmitResult struct {
	Proposal model.Proposal `json:"proposal"`
	Mode     string         `json:"mode"`
	View     *View          `json:"view"`
}

// Submit sends the draft to the portal. The stage must be open and every
// required field filled. The existing proposal is re-fetched first: without
// one a proposal is created with status send, otherwise it is updated in
// place and its status left alone. On failure the draft is kept as is.
func (c *Controller) Submit(ctx context.Context, sess *model.Session, ref Ref) (_ *SubmitResult, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.submit",
		observability.AttrStageID.String(ref.StageID),
	)
	step, mode := "unknown", ModeCreate
	defer func() {
		c.metrics.RecordSubmission(step, mode, observability.OutcomeOf(err))
		observability.EndSpanWithError(span, err)
	}()

	// 1. Re-derive the stage state.
	sc, err := c.resolveOpen(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	step = string(sc.spec.Step)
	span.SetAttributes(
		observability.AttrStep.String(step),
		observability.AttrSubjectID.String(sess.SubjectID),
	)

	// 2. Re-fetch the proposal to choose between create and update.
	existing, err := c.proposal(ctx, sess, sc)
	if err != nil {
		return nil, err
	}
	d, _, err := c.openDraft(ctx, sess, sc, existing, false)
	if err != nil {
		return nil, err
	}

	// 3. Validate required fields.
	if missing := stage.Missing(d.Data, d.Attached); len(missing) > 0 {
		return nil, model.NewValidationError(missing)
	}

	// 4. Send it.
	uploads := make([]portal.Upload, 0, len(d.Uploads))
	for _, u := range d.Uploads {
		uploads = append(uploads, portal.Upload{Field: u.Field, Filename: u.Filename, ContentType: u.ContentType, Content: u.Content})
	}
	form, err := portal.EncodeProposal(ref.StageID, d.Data, uploads, existing == nil)
	if err != nil {
		return nil, err
	}

	var saved model.Proposal
	if existing == nil {
		saved, err = c.backend.CreateProposal(ctx, sess, sc.spec.Step, form)
	} else {
		mode = ModeUpdate
		saved, err = c.backend.UpdateProposal(ctx, sess, sc.spec.Step, existing.ID, form)
	}
	if err != nil {
		observability.RequestLogger(ctx, c.logger).Warn("proposal submit failed; draft kept",
			zap.String("stage_id", ref.StageID),
			zap.String("mode", mode),
			zap.Error(err),
		)
		return nil, err
	}

	// 5. Reflect the confirmed record on the draft.
	if saved.ID == "" {
		saved = acknowledged(existing, ref.StageID, d.Data)
	}
	span.SetAttributes(observability.AttrProposalID.String(saved.ID))
	d.ProposalID = saved.ID
	if saved.Data != nil && saved.Data.Step() == sc.spec.Step {
		d.Data = saved.Data
	} else {
		saved.Data = d.Data
	}
	d.Uploads = nil
	if uerr := c.drafts.Update(ctx, d); uerr != nil {
		// The submission stands even when the draft cannot be updated.
		observability.RequestLogger(ctx, c.logger).Warn("draft update after submit failed",
			zap.String("stage_id", ref.StageID),
			zap.Error(uerr),
		)
	}

	observability.RequestLogger(ctx, c.logger).Info("proposal submitted",
		zap.String("stage_id", ref.StageID),
		zap.String("proposal_id", saved.ID),
		zap.String("mode", mode),
	)
	return &SubmitResult{Proposal: saved, Mode: mode, View: c.view(sc, d, &saved)}, nil
}

// acknowledged builds the proposal a backend confirmed without echoing it.
func acknowledged(existing *model.Proposal, stageID string, data model.ProposalData) model.Proposal {
	if existing != nil {
		p := *existing
		p.Data = data
		return p
	}
	return model.Proposal{StageID: stageID, Status: model.StatusSend, Data: data}
}
