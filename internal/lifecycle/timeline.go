package lifecycle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// StageEntry is one stage of a timeline with its state at request time.
type StageEntry struct {
	Stage model.TimelineEvent `json:"stage"`
	State model.StageState    `json:"state"`
	// Known is false for stages whose step tag this service cannot render.
	Known bool `json:"known"`
}

// TimelineView is a timeline with its stages in step order.
type TimelineView struct {
	Timeline model.Timeline `json:"timeline"`
	Stages   []StageEntry   `json:"stages"`
	// Active is the id of the stage that is open now, if any.
	Active string `json:"active,omitempty"`
}

// Timeline returns a timeline and the state of each of its stages.
func (c *Controller) Timeline(ctx context.Context, sess *model.Session, timelineID string) (*TimelineView, error) {
	if sess == nil {
		return nil, model.NewUnauthorizedError("no session")
	}
	if timelineID == "" {
		return nil, model.NewBadRequestError("timeline id is required")
	}
	ctx, span := observability.StartSpan(ctx, "lifecycle.timeline")
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var (
		timeline model.Timeline
		events   []model.TimelineEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		timeline, err = c.backend.GetTimeline(gctx, sess, timelineID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = c.backend.ListTimelineEvents(gctx, sess, timelineID)
		return err
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}

	now := c.now()
	v := &TimelineView{Timeline: timeline, Stages: make([]StageEntry, 0, len(events))}
	for _, e := range events {
		_, lerr := stage.Lookup(e.Step)
		state := e.StateAt(now, c.loc)
		v.Stages = append(v.Stages, StageEntry{Stage: e, State: state, Known: lerr == nil})
		if state == model.StageOpen && v.Active == "" {
			v.Active = e.ID
		}
	}
	return v, nil
}
