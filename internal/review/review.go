// Package review implements the reviewer side of a stage: a read-only view
// of a submitted proposal and the status decision that moves it out of
// send.
package review

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/audit"
	"github.com/pitabwire/hibah/internal/funding"
	"github.com/pitabwire/hibah/internal/lifecycle"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/portal"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// MaxScore is the highest score a reviewer may give.
const MaxScore = 100

// View is what a reviewer sees of a stage.
type View struct {
	Timeline model.Timeline        `json:"timeline"`
	Stage    model.TimelineEvent   `json:"stage"`
	State    model.StageState      `json:"state"`
	Spec     stage.Spec            `json:"spec"`
	Proposal *model.Proposal       `json:"proposal"`
	Summary  *model.FundingSummary `json:"summary,omitempty"`
}

// Decision is a reviewer's verdict on a proposal. ToolFlags and
// IncentiveFlags, when set, carry the acceptance flag of every row of the
// corresponding table in order.
type Decision struct {
	ProposalID     string
	Comment        string
	Status         model.ProposalStatus
	Score          float64
	ToolFlags      []bool
	IncentiveFlags []bool
}

func (d Decision) flagsEdited() bool {
	return d.ToolFlags != nil || d.IncentiveFlags != nil
}

// Result reports an accepted decision.
type Result struct {
	Proposal model.Proposal `json:"proposal"`
	Entry    audit.Entry    `json:"audit"`
}

// Controller implements the reviewer operations.
type Controller struct {
	backend lifecycle.Backend
	caps    model.CapabilityResolver
	trail   audit.Store
	loc     *time.Location
	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewController creates a review controller. metrics may be nil.
func NewController(backend lifecycle.Backend, caps model.CapabilityResolver, trail audit.Store, opts lifecycle.Options, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		backend: backend,
		caps:    caps,
		trail:   trail,
		loc:     opts.Location,
		now:     opts.Now,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Controller) authorize(sess *model.Session) error {
	if sess == nil {
		return model.NewUnauthorizedError("no session")
	}
	caps, err := c.caps.Resolve(sess)
	if err != nil {
		return err
	}
	if !caps.Has(model.CapProposalReview) {
		return model.NewForbiddenError("reviewing proposals requires " + model.CapProposalReview)
	}
	return nil
}

type target struct {
	view     *View
	proposal *model.Proposal
}

// locate resolves the stage and the proposal under review: the one named by
// proposalID, or the first of the stage.
func (c *Controller) locate(ctx context.Context, sess *model.Session, ref lifecycle.Ref, proposalID string) (*target, error) {
	if err := c.authorize(sess); err != nil {
		return nil, err
	}
	timeline, event, spec, err := lifecycle.Resolve(ctx, c.backend, sess, ref)
	if err != nil {
		return nil, err
	}
	list, err := c.backend.ListStageProposals(ctx, sess, ref.StageID, spec.Step)
	if err != nil {
		return nil, err
	}

	var p *model.Proposal
	for i := range list {
		if proposalID == "" || list[i].ID == proposalID {
			p = &list[i]
			break
		}
	}
	if p == nil {
		if proposalID != "" {
			return nil, model.NewNotFoundError("proposal " + proposalID + " not found in stage " + ref.StageID)
		}
		return nil, model.NewNotFoundError("stage " + ref.StageID + " has no proposals")
	}

	v := &View{
		Timeline: timeline,
		Stage:    event,
		State:    event.StateAt(c.now(), c.loc),
		Spec:     spec,
		Proposal: p,
	}
	if p.Data != nil {
		if s, ok := funding.Of(p.Data); ok {
			v.Summary = &s
		}
	}
	return &target{view: v, proposal: p}, nil
}

// Load returns the reviewer's read-only view of a proposal.
func (c *Controller) Load(ctx context.Context, sess *model.Session, ref lifecycle.Ref, proposalID string) (*View, error) {
	ctx, span := observability.StartSpan(ctx, "review.load",
		observability.AttrStageID.String(ref.StageID),
	)
	t, err := c.locate(ctx, sess, ref, proposalID)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	return t.view, nil
}

// Validate checks a decision on its own.
func (d Decision) Validate() error {
	var details []model.FieldError
	if !d.Status.Valid() {
		details = append(details, model.FieldError{
			Field:   portal.KeyStatus,
			Code:    "INVALID",
			Message: fmt.Sprintf("status %q is not one of send, approve, decline, revision", d.Status),
		})
	}
	if d.Score < 0 || d.Score > MaxScore {
		details = append(details, model.FieldError{
			Field:   portal.KeyScores,
			Code:    "OUT_OF_RANGE",
			Message: "score must be between 0 and " + strconv.Itoa(MaxScore),
		})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// Submit records a decision on the proposal of a stage and appends it to the
// audit trail.
func (c *Controller) Submit(ctx context.Context, sess *model.Session, ref lifecycle.Ref, d Decision) (_ *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "review.submit",
		observability.AttrStageID.String(ref.StageID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Check the decision and the reviewer.
	if err = d.Validate(); err != nil {
		return nil, err
	}
	var t *target
	if t, err = c.locate(ctx, sess, ref, d.ProposalID); err != nil {
		return nil, err
	}
	p, step := t.proposal, t.view.Spec.Step
	span.SetAttributes(
		observability.AttrStep.String(string(step)),
		observability.AttrProposalID.String(p.ID),
	)

	// 2. Apply flag edits to the fund-disbursement tables.
	update := portal.ReviewUpdate{Comment: d.Comment, Status: d.Status, Score: d.Score}
	if d.flagsEdited() {
		if step != model.StepFundDisbursement {
			err = model.NewBadRequestError("acceptance flags can only be edited on the " + string(model.StepFundDisbursement) + " stage")
			return nil, err
		}
		if update.Tools, update.Incentives, err = applyFlags(p.Data, d); err != nil {
			return nil, err
		}
		update.FlagsEdited = true
	}

	// 3. Send the transition.
	var form *portal.Form
	if form, err = portal.EncodeReview(update); err != nil {
		return nil, err
	}
	var saved model.Proposal
	if saved, err = c.backend.UpdateProposal(ctx, sess, step, p.ID, form); err != nil {
		return nil, err
	}
	if saved.ID == "" {
		saved = *p
		saved.Status, saved.Comment, saved.Score = d.Status, d.Comment, d.Score
		if update.FlagsEdited {
			saved.Data = &model.FundDisbursementData{Tools: update.Tools, Incentives: update.Incentives}
		}
	}
	c.metrics.RecordReviewDecision(string(step), string(d.Status))

	// 4. Record it.
	entry, aerr := c.trail.Append(ctx, audit.Entry{
		ProposalID: p.ID,
		StageID:    ref.StageID,
		Reviewer:   sess.SubjectID,
		From:       p.Status,
		To:         d.Status,
		Score:      d.Score,
		Comment:    d.Comment,
		At:         c.now(),
	})
	logger := observability.RequestLogger(ctx, c.logger)
	if aerr != nil {
		logger.Error("review decision not audited",
			zap.String("proposal_id", p.ID),
			zap.Error(aerr),
		)
	}
	logger.Info("review decision recorded",
		zap.String("proposal_id", p.ID),
		zap.String("from", string(p.Status)),
		zap.String("to", string(d.Status)),
	)
	return &Result{Proposal: saved, Entry: entry}, nil
}

// applyFlags returns copies of the fund-disbursement tables with the
// decision's acceptance flags applied.
func applyFlags(pd model.ProposalData, d Decision) ([]model.ToolRow, []model.IncentiveRow, error) {
	data, ok := pd.(*model.FundDisbursementData)
	if !ok {
		data = &model.FundDisbursementData{}
	}

	tools := append([]model.ToolRow(nil), data.Tools...)
	incentives := append([]model.IncentiveRow(nil), data.Incentives...)

	var details []model.FieldError
	if d.ToolFlags != nil {
		if len(d.ToolFlags) != len(tools) {
			details = append(details, flagCountError(stage.FieldTools, len(d.ToolFlags), len(tools)))
		} else {
			for i, on := range d.ToolFlags {
				tools[i].Accepted = flag(on)
			}
		}
	}
	if d.IncentiveFlags != nil {
		if len(d.IncentiveFlags) != len(incentives) {
			details = append(details, flagCountError(stage.FieldIncentive, len(d.IncentiveFlags), len(incentives)))
		} else {
			for i, on := range d.IncentiveFlags {
				incentives[i].Accepted = flag(on)
			}
		}
	}
	if len(details) > 0 {
		return nil, nil, model.NewValidationError(details)
	}
	return tools, incentives, nil
}

func flag(on bool) string {
	if on {
		return model.FlagAccepted
	}
	return model.FlagNotAccepted
}

func flagCountError(field string, got, want int) model.FieldError {
	return model.FieldError{
		Field:   field,
		Code:    "LENGTH_MISMATCH",
		Message: fmt.Sprintf("got %d flags for %d rows", got, want),
	}
}

// History returns the audit trail of the proposal under review.
func (c *Controller) History(ctx context.Context, sess *model.Session, ref lifecycle.Ref, proposalID string) ([]audit.Entry, error) {
	t, err := c.locate(ctx, sess, ref, proposalID)
	if err != nil {
		return nil, err
	}
	return c.trail.List(ctx, t.proposal.ID)
}
