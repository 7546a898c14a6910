// Package lifecycle drives a submitter's proposal for one stage: it loads
// the timeline, stage and existing proposal, keeps edits on a draft while
// the stage is open and submits the draft to the portal.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/funding"
	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/portal"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// Backend is the subset of the portal client the controllers use.
type Backend interface {
	GetTimeline(ctx context.Context, sess *model.Session, id string) (model.Timeline, error)
	GetTimelineEvent(ctx context.Context, sess *model.Session, timelineID, id string) (model.TimelineEvent, error)
	ListTimelineEvents(ctx context.Context, sess *model.Session, timelineID string) ([]model.TimelineEvent, error)
	ListStageProposals(ctx context.Context, sess *model.Session, stageID string, step model.StepTag) ([]model.Proposal, error)
	CreateProposal(ctx context.Context, sess *model.Session, step model.StepTag, form *portal.Form) (model.Proposal, error)
	UpdateProposal(ctx context.Context, sess *model.Session, step model.StepTag, id string, form *portal.Form) (model.Proposal, error)
}

// Ref names a stage within a timeline.
type Ref struct {
	TimelineID string
	StageID    string
}

// View is what a submitter sees of a stage.
type View struct {
	Timeline model.Timeline        `json:"timeline"`
	Stage    model.TimelineEvent   `json:"stage"`
	State    model.StageState      `json:"state"`
	Editable bool                  `json:"editable"`
	Spec     stage.Spec            `json:"spec"`
	Proposal *model.Proposal       `json:"proposal,omitempty"`
	Draft    DraftView             `json:"draft"`
	Summary  *model.FundingSummary `json:"summary,omitempty"`
}

// DraftView is the client-facing part of a draft. Pending upload contents
// are not echoed.
type DraftView struct {
	ProposalID string             `json:"proposal_id,omitempty"`
	Data       model.ProposalData `json:"data"`
	Pending    []string           `json:"pending_uploads,omitempty"`
	Version    int64              `json:"version"`
}

// Options configures a Controller.
type Options struct {
	// Location is the zone whose midnight opens a stage. Nil means UTC.
	Location *time.Location
	// MaxUploadBytes bounds spreadsheet uploads. Zero uses the ingest default.
	MaxUploadBytes int64
	// Now overrides the clock.
	Now func() time.Time
}

// Controller implements the submitter operations.
type Controller struct {
	backend  Backend
	drafts   draft.Store
	ingester ingest.Ingester
	loc      *time.Location
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewController creates a lifecycle controller. metrics may be nil.
func NewController(backend Backend, drafts draft.Store, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Controller {
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
		backend:  backend,
		drafts:   drafts,
		ingester: ingest.Ingester{MaxBytes: opts.MaxUploadBytes},
		loc:      opts.Location,
		now:      opts.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// scope is a resolved stage: its timeline, record, spec and state at the
// time of the request.
type scope struct {
	ref      Ref
	timeline model.Timeline
	event    model.TimelineEvent
	spec     stage.Spec
	state    model.StageState
	actor    string
}

func (s *scope) key() draft.Key {
	return draft.Key{StageID: s.ref.StageID, Actor: s.actor}
}

// Resolve fetches the timeline and stage concurrently and derives the stage
// state. It is shared with the review controller.
func Resolve(ctx context.Context, backend Backend, sess *model.Session, ref Ref) (model.Timeline, model.TimelineEvent, stage.Spec, error) {
	if sess == nil {
		return model.Timeline{}, model.TimelineEvent{}, stage.Spec{}, model.NewUnauthorizedError("no session")
	}
	if ref.TimelineID == "" || ref.StageID == "" {
		return model.Timeline{}, model.TimelineEvent{}, stage.Spec{}, model.NewBadRequestError("timeline and stage ids are required")
	}

	var (
		timeline model.Timeline
		event    model.TimelineEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		timeline, err = backend.GetTimeline(gctx, sess, ref.TimelineID)
		return err
	})
	g.Go(func() error {
		var err error
		event, err = backend.GetTimelineEvent(gctx, sess, ref.TimelineID, ref.StageID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Timeline{}, model.TimelineEvent{}, stage.Spec{}, err
	}

	if event.TimelineID != "" && event.TimelineID != ref.TimelineID {
		return model.Timeline{}, model.TimelineEvent{}, stage.Spec{}, model.NewNotFoundError("stage " + ref.StageID + " does not belong to timeline " + ref.TimelineID)
	}
	spec, err := stage.Lookup(event.Step)
	if err != nil {
		return model.Timeline{}, model.TimelineEvent{}, stage.Spec{}, err
	}
	return timeline, event, spec, nil
}

func (c *Controller) resolve(ctx context.Context, sess *model.Session, ref Ref) (*scope, error) {
	timeline, event, spec, err := Resolve(ctx, c.backend, sess, ref)
	if err != nil {
		return nil, err
	}
	return &scope{
		ref:      ref,
		timeline: timeline,
		event:    event,
		spec:     spec,
		state:    event.StateAt(c.now(), c.loc),
		actor:    sess.ActorFor(timeline.Scope),
	}, nil
}

// resolveOpen resolves the stage and rejects it unless it is open.
func (c *Controller) resolveOpen(ctx context.Context, sess *model.Session, ref Ref) (*scope, error) {
	sc, err := c.resolve(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	if sc.state != model.StageOpen {
		return nil, model.NewStageNotOpenError(sc.state)
	}
	return sc, nil
}

// PickProposal returns the proposal owned by actor, or the first proposal
// when none names its owner.
func PickProposal(list []model.Proposal, actor string) *model.Proposal {
	for i := range list {
		if list[i].Owner == actor {
			return &list[i]
		}
	}
	for i := range list {
		if list[i].Owner == "" {
			return &list[i]
		}
	}
	return nil
}

func (c *Controller) proposal(ctx context.Context, sess *model.Session, sc *scope) (*model.Proposal, error) {
	list, err := c.backend.ListStageProposals(ctx, sess, sc.ref.StageID, sc.spec.Step)
	if err != nil {
		return nil, err
	}
	return PickProposal(list, sc.actor), nil
}

// openDraft returns the stored draft for the scope, or a new one seeded
// from p. When p is nil and seed is set the existing proposal is fetched.
func (c *Controller) openDraft(ctx context.Context, sess *model.Session, sc *scope, p *model.Proposal, seed bool) (*draft.Draft, *model.Proposal, error) {
	stored, found, err := c.drafts.Get(ctx, sc.key())
	if err != nil {
		return nil, nil, err
	}
	if found && stored.Step == sc.spec.Step {
		return stored, p, nil
	}

	if p == nil && seed {
		if p, err = c.proposal(ctx, sess, sc); err != nil {
			return nil, nil, err
		}
	}

	d, err := draft.New(sc.key(), sc.ref.TimelineID, sc.spec.Step)
	if err != nil {
		return nil, nil, err
	}
	if found {
		// A draft left from a stage whose step changed is replaced.
		d.Version = stored.Version
	}
	if p != nil {
		d.ProposalID = p.ID
		if p.Data != nil && p.Data.Step() == sc.spec.Step {
			d.Data = p.Data
		}
	}
	return d, p, nil
}

func (c *Controller) view(sc *scope, d *draft.Draft, p *model.Proposal) *View {
	v := &View{
		Timeline: sc.timeline,
		Stage:    sc.event,
		State:    sc.state,
		Editable: sc.state == model.StageOpen,
		Spec:     sc.spec,
		Proposal: p,
		Draft: DraftView{
			ProposalID: d.ProposalID,
			Data:       d.Data,
			Version:    d.Version,
		},
	}
	for _, u := range d.Uploads {
		v.Draft.Pending = append(v.Draft.Pending, u.Field)
	}
	if s, ok := funding.Of(d.Data); ok {
		v.Summary = &s
	}
	return v
}

// Load returns the submitter's view of a stage. It does not store a draft;
// the first edit does.
func (c *Controller) Load(ctx context.Context, sess *model.Session, ref Ref) (*View, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.load",
		observability.AttrStageID.String(ref.StageID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var sc *scope
	if sc, err = c.resolve(ctx, sess, ref); err != nil {
		return nil, err
	}
	span.SetAttributes(observability.AttrStep.String(string(sc.spec.Step)))

	var p *model.Proposal
	if p, err = c.proposal(ctx, sess, sc); err != nil {
		return nil, err
	}
	var d *draft.Draft
	if d, _, err = c.openDraft(ctx, sess, sc, p, false); err != nil {
		return nil, err
	}
	return c.view(sc, d, p), nil
}

// Summary returns the funding summary of the submitter's current draft.
func (c *Controller) Summary(ctx context.Context, sess *model.Session, ref Ref) (model.FundingSummary, error) {
	sc, err := c.resolve(ctx, sess, ref)
	if err != nil {
		return model.FundingSummary{}, err
	}
	if !sc.spec.HasFunding() {
		return model.FundingSummary{}, model.NewBadRequestError("stage " + string(sc.spec.Step) + " has no funding tables")
	}
	d, _, err := c.openDraft(ctx, sess, sc, nil, true)
	if err != nil {
		return model.FundingSummary{}, err
	}
	s, _ := funding.Of(d.Data)
	return s, nil
}
