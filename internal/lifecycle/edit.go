package lifecycle

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// Edit operation names used in metrics.
const (
	OpSetField           = "set_field"
	OpAppendActivity     = "append_activity"
	OpReplaceActivity    = "replace_activity"
	OpAppendSubActivity  = "append_sub_activity"
	OpReplaceSubActivity = "replace_sub_activity"
	OpAttachFile         = "attach_file"
)

// Spreadsheet is an uploaded workbook or CSV file.
type Spreadsheet struct {
	Filename string
	Body     io.Reader
}

// edit applies fn to the draft of an open stage and stores the result.
func (c *Controller) edit(ctx context.Context, sess *model.Session, ref Ref, op string, fn func(d *draft.Draft, spec stage.Spec) error) (_ *View, err error) {
	step := "unknown"
	defer func() { c.metrics.RecordEdit(step, op, observability.OutcomeOf(err)) }()

	sc, err := c.resolveOpen(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	step = string(sc.spec.Step)

	d, _, err := c.openDraft(ctx, sess, sc, nil, true)
	if err != nil {
		return nil, err
	}
	if err = fn(d, sc.spec); err != nil {
		return nil, err
	}
	if err = c.drafts.Update(ctx, d); err != nil {
		return nil, err
	}
	return c.view(sc, d, nil), nil
}

// SetField sets a text or rich-text field.
func (c *Controller) SetField(ctx context.Context, sess *model.Session, ref Ref, name, value string) (*View, error) {
	return c.edit(ctx, sess, ref, OpSetField, func(d *draft.Draft, spec stage.Spec) error {
		f, ok := spec.Field(name)
		if !ok {
			return model.NewBadRequestError("stage " + string(spec.Step) + " has no field " + name)
		}
		if f.Kind != stage.KindText && f.Kind != stage.KindRichText {
			return model.NewBadRequestError("field " + name + " is not a text field")
		}
		return stage.SetText(d.Data, name, value)
	})
}

// AppendActivity appends a named activity to the activity list.
func (c *Controller) AppendActivity(ctx context.Context, sess *model.Session, ref Ref, name string) (*View, error) {
	return c.edit(ctx, sess, ref, OpAppendActivity, func(d *draft.Draft, _ stage.Spec) error {
		return stage.AppendActivity(d.Data, name)
	})
}

// ReplaceActivity renames the activity at index.
func (c *Controller) ReplaceActivity(ctx context.Context, sess *model.Session, ref Ref, index int, name string) (*View, error) {
	return c.edit(ctx, sess, ref, OpReplaceActivity, func(d *draft.Draft, _ stage.Spec) error {
		return stage.ReplaceActivity(d.Data, index, name)
	})
}

// AppendSubActivity adds a sub-activity under an event activity. Its
// funding table is read from sheet when one is given.
func (c *Controller) AppendSubActivity(ctx context.Context, sess *model.Session, ref Ref, activity int, name string, sheet *Spreadsheet) (*View, error) {
	funding, err := c.readFunding(ctx, sheet)
	if err != nil {
		return nil, err
	}
	return c.edit(ctx, sess, ref, OpAppendSubActivity, func(d *draft.Draft, _ stage.Spec) error {
		return stage.AppendSubActivity(d.Data, activity, model.SubActivity{Name: name, Funding: funding})
	})
}

// ReplaceSubActivity replaces the sub-activity at index. Without a sheet the
// existing funding rows are kept and only the name changes.
func (c *Controller) ReplaceSubActivity(ctx context.Context, sess *model.Session, ref Ref, activity, index int, name string, sheet *Spreadsheet) (*View, error) {
	funding, err := c.readFunding(ctx, sheet)
	if err != nil {
		return nil, err
	}
	return c.edit(ctx, sess, ref, OpReplaceSubActivity, func(d *draft.Draft, _ stage.Spec) error {
		sub := model.SubActivity{Name: name, Funding: funding}
		if sheet == nil {
			if ev, ok := d.Data.(*model.EventData); ok && activity >= 0 && activity < len(ev.Activities) {
				if subs := ev.Activities[activity].SubActivities; index >= 0 && index < len(subs) {
					sub.Funding = subs[index].Funding
				}
			}
		}
		return stage.ReplaceSubActivity(d.Data, activity, index, sub)
	})
}

func (c *Controller) readFunding(ctx context.Context, sheet *Spreadsheet) ([]model.FundingRow, error) {
	if sheet == nil {
		return []model.FundingRow{}, nil
	}
	rows, _, err := c.readTable(ctx, sheet, model.TableFunding)
	if err != nil {
		return nil, err
	}
	return ingest.DecodeFunding(rows), nil
}

// AttachFile stages a file upload for a file field. The file is sent with
// the next submit.
func (c *Controller) AttachFile(ctx context.Context, sess *model.Session, ref Ref, field string, upload draft.Upload) (*View, error) {
	return c.edit(ctx, sess, ref, OpAttachFile, func(d *draft.Draft, spec stage.Spec) error {
		f, ok := spec.Field(field)
		if !ok || f.Kind != stage.KindFile {
			return model.NewBadRequestError("field " + field + " does not accept files")
		}
		if len(upload.Content) == 0 {
			return model.NewBadRequestError("uploaded file is empty")
		}
		upload.Field = field
		d.Attach(upload)
		return nil
	})
}

// IngestResult reports a completed table ingestion.
type IngestResult struct {
	View        *View `json:"view"`
	Rows        int   `json:"rows"`
	MarkerFound bool  `json:"marker_found"`
}

// Ingest replaces a table field wholesale with the rows of an uploaded
// spreadsheet. The draft records a generation before parsing starts; if a
// newer ingestion of the same field began in the meantime this one is
// discarded with STALE_INGESTION. A failed parse leaves the table unchanged.
func (c *Controller) Ingest(ctx context.Context, sess *model.Session, ref Ref, field string, sheet Spreadsheet) (_ *IngestResult, err error) {
	table := "unknown"
	var rows int
	defer func() { c.metrics.RecordIngestion(table, observability.OutcomeOf(err), rows) }()

	sc, err := c.resolveOpen(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	f, ok := sc.spec.Field(field)
	if !ok || f.Kind != stage.KindTable {
		return nil, model.NewBadRequestError("field " + field + " of stage " + string(sc.spec.Step) + " is not a spreadsheet table")
	}
	table = string(f.Table)

	// 1. Start a generation and persist it so later uploads supersede us.
	d, _, err := c.openDraft(ctx, sess, sc, nil, true)
	if err != nil {
		return nil, err
	}
	gen := d.BeginIngest(field)
	if err = c.drafts.Update(ctx, d); err != nil {
		return nil, err
	}

	// 2. Parse the upload.
	parsed, marker, err := c.readTable(ctx, &sheet, f.Table)
	if err != nil {
		return nil, err
	}
	if !marker {
		observability.RequestLogger(ctx, c.logger).Warn("spreadsheet has no start marker; table is empty",
			zap.String("stage_id", ref.StageID),
			zap.String("field", field),
			zap.String("filename", sheet.Filename),
		)
	}

	// 3. Apply the rows unless a newer generation started.
	d, found, err := c.drafts.Get(ctx, sc.key())
	if err != nil {
		return nil, err
	}
	if !found || !d.Current(field, gen) {
		return nil, model.NewStaleIngestionError(field)
	}
	if err = stage.SetTable(d.Data, field, parsed); err != nil {
		return nil, err
	}
	if err = c.drafts.Update(ctx, d); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			return nil, model.NewStaleIngestionError(field)
		}
		return nil, err
	}

	rows = len(parsed)
	return &IngestResult{View: c.view(sc, d, nil), Rows: rows, MarkerFound: marker}, nil
}

func (c *Controller) readTable(ctx context.Context, sheet *Spreadsheet, kind model.TableKind) (_ [][]string, marker bool, err error) {
	_, span := observability.StartSpan(ctx, "lifecycle.ingest",
		observability.AttrTable.String(string(kind)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if sheet == nil || sheet.Body == nil {
		return nil, false, model.NewBadRequestError("a spreadsheet file is required")
	}
	t, err := c.ingester.Open(sheet.Body, sheet.Filename, kind)
	if err != nil {
		return nil, false, err
	}
	rows, err := t.Collect()
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(observability.AttrRows.Int(len(rows)))
	return rows, t.MarkerFound(), nil
}
