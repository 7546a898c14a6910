// Package draft keeps in-progress proposals, one per (stage, actor), between
// the requests that edit them. A draft is discarded after its TTL or once
// the proposal is submitted.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitabwire/hibah/model"
)

// Key identifies a draft.
type Key struct {
	StageID string
	Actor   string
}

func (k Key) String() string {
	return k.StageID + ":" + k.Actor
}

// Upload is a file attached to a draft and not yet sent to the portal.
type Upload struct {
	Field       string `json:"field"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Draft is the editable state of one proposal.
type Draft struct {
	Key        Key
	TimelineID string
	Step       model.StepTag
	ProposalID string
	Data       model.ProposalData

	// Generations holds the last ingestion generation started per table
	// field. A completion carrying an older generation is stale.
	Generations map[string]uint64
	Uploads     []Upload

	// Version is the optimistic concurrency token. Zero means the draft has
	// never been stored.
	Version   int64
	UpdatedAt time.Time
}

// New returns an unsaved draft holding the default data for step.
func New(key Key, timelineID string, step model.StepTag) (*Draft, error) {
	data, err := model.NewProposalData(step)
	if err != nil {
		return nil, err
	}
	return &Draft{Key: key, TimelineID: timelineID, Step: step, Data: data}, nil
}

// BeginIngest starts a new ingestion generation for field and returns it.
func (d *Draft) BeginIngest(field string) uint64 {
	if d.Generations == nil {
		d.Generations = make(map[string]uint64)
	}
	d.Generations[field]++
	return d.Generations[field]
}

// Current reports whether gen is still the latest generation for field.
func (d *Draft) Current(field string, gen uint64) bool {
	return d.Generations[field] == gen
}

// Attach adds u as a pending upload, replacing any earlier file for the same
// field.
func (d *Draft) Attach(u Upload) {
	for i := range d.Uploads {
		if d.Uploads[i].Field == u.Field {
			d.Uploads[i] = u
			return
		}
	}
	d.Uploads = append(d.Uploads, u)
}

// Attached reports whether a file is pending for field.
func (d *Draft) Attached(field string) bool {
	for _, u := range d.Uploads {
		if u.Field == field {
			return true
		}
	}
	return false
}

type stored struct {
	StageID     string            `json:"stage_id"`
	Actor       string            `json:"actor"`
	TimelineID  string            `json:"timeline_id"`
	Step        model.StepTag     `json:"step"`
	ProposalID  string            `json:"proposal_id,omitempty"`
	Data        json.RawMessage   `json:"data"`
	Generations map[string]uint64 `json:"generations,omitempty"`
	Uploads     []Upload          `json:"uploads,omitempty"`
	Version     int64             `json:"version"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// MarshalJSON encodes the draft with its data in named-field form.
func (d *Draft) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal draft data: %w", err)
	}
	return json.Marshal(stored{
		StageID:     d.Key.StageID,
		Actor:       d.Key.Actor,
		TimelineID:  d.TimelineID,
		Step:        d.Step,
		ProposalID:  d.ProposalID,
		Data:        data,
		Generations: d.Generations,
		Uploads:     d.Uploads,
		Version:     d.Version,
		UpdatedAt:   d.UpdatedAt,
	})
}

// UnmarshalJSON decodes a stored draft, rejecting data that does not match
// its step.
func (d *Draft) UnmarshalJSON(b []byte) error {
	var s stored
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	data, err := model.DecodeProposalData(s.Step, s.Data)
	if err != nil {
		return err
	}
	*d = Draft{
		Key:         Key{StageID: s.StageID, Actor: s.Actor},
		TimelineID:  s.TimelineID,
		Step:        s.Step,
		ProposalID:  s.ProposalID,
		Data:        data,
		Generations: s.Generations,
		Uploads:     s.Uploads,
		Version:     s.Version,
		UpdatedAt:   s.UpdatedAt,
	}
	return nil
}

// Store persists drafts.
type Store interface {
	// Get returns the draft for key. found is false when there is none or
	// it has expired.
	Get(ctx context.Context, key Key) (d *Draft, found bool, err error)

	// Update stores d if the stored version still equals d.Version, then
	// advances d.Version. A mismatch is a CONFLICT error.
	Update(ctx context.Context, d *Draft) error

	// Delete removes the draft for key. Deleting a missing draft is not
	// an error.
	Delete(ctx context.Context, key Key) error

	// Purge removes expired drafts and returns how many it removed.
	Purge(ctx context.Context) (int, error)

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

func conflict(key Key) error {
	return model.NewConflictError(fmt.Sprintf("draft %s was modified concurrently", key))
}
