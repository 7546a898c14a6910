package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/portal"
	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

var (
	testNow  = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	testSess = &model.Session{SubjectID: "u-1", DepartmentID: "dept-9", Token: "tok"}
	testRef  = Ref{TimelineID: "tl-1", StageID: "ev-1"}
)

// fakeBackend is an in-memory portal. Proposals are stored decoded from the
// multipart values the controller sends.
type fakeBackend struct {
	mu        sync.Mutex
	timeline  model.Timeline
	event     model.TimelineEvent
	proposals []model.Proposal
	forms     []*portal.Form
	updatedID string
	submitErr error
	calls     map[string]int

	// echoIDOnly makes writes acknowledge with an id and status only.
	echoIDOnly bool
}

func newFakeBackend(step model.StepTag) *fakeBackend {
	return &fakeBackend{
		timeline: model.Timeline{ID: "tl-1", Scope: model.ScopeDepartment, Status: model.PublishPublish},
		event: model.TimelineEvent{
			ID:         "ev-1",
			TimelineID: "tl-1",
			Step:       step,
			StepIndex:  1,
			Start:      time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
			Finish:     time.Date(2026, 3, 20, 17, 0, 0, 0, time.UTC),
		},
		calls: map[string]int{},
	}
}

func (f *fakeBackend) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) GetTimeline(_ context.Context, _ *model.Session, id string) (model.Timeline, error) {
	f.count(portal.OpGetTimeline)
	if id != f.timeline.ID {
		return model.Timeline{}, model.NewNotFoundError("timeline")
	}
	return f.timeline, nil
}

func (f *fakeBackend) GetTimelineEvent(_ context.Context, _ *model.Session, _, id string) (model.TimelineEvent, error) {
	f.count(portal.OpGetTimelineEvent)
	if id != f.event.ID {
		return model.TimelineEvent{}, model.NewNotFoundError("stage")
	}
	return f.event, nil
}

func (f *fakeBackend) ListTimelineEvents(_ context.Context, _ *model.Session, id string) ([]model.TimelineEvent, error) {
	f.count(portal.OpListTimelineEvents)
	if id != f.timeline.ID {
		return nil, model.NewNotFoundError("timeline")
	}
	earlier := f.event
	earlier.ID, earlier.Step, earlier.StepIndex = "ev-0", model.StepSelection, 0
	earlier.Start = f.event.Start.AddDate(0, -1, 0)
	earlier.Finish = f.event.Start.AddDate(0, 0, -10)
	return []model.TimelineEvent{earlier, f.event}, nil
}

func (f *fakeBackend) ListStageProposals(_ context.Context, _ *model.Session, _ string, _ model.StepTag) ([]model.Proposal, error) {
	f.count(portal.OpListStageProposals)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Proposal(nil), f.proposals...), nil
}

func (f *fakeBackend) store(step model.StepTag, form *portal.Form) (model.Proposal, error) {
	data := map[string]string{}
	for k, v := range form.Values {
		switch k {
		case portal.KeyTimelineEvent, portal.KeyStatus, portal.KeyComment, portal.KeyScores:
		default:
			data[k] = v
		}
	}
	for _, u := range form.Files {
		data[u.Field] = "uploads/" + u.Filename
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return model.Proposal{}, err
	}
	decoded, err := portal.DecodeData(step, raw)
	if err != nil {
		return model.Proposal{}, err
	}
	return model.Proposal{StageID: form.Values[portal.KeyTimelineEvent], Owner: testSess.DepartmentID, Data: decoded}, nil
}

func (f *fakeBackend) CreateProposal(_ context.Context, _ *model.Session, step model.StepTag, form *portal.Form) (model.Proposal, error) {
	f.count(portal.OpCreateProposal)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, form)
	if f.submitErr != nil {
		return model.Proposal{}, f.submitErr
	}
	p, err := f.store(step, form)
	if err != nil {
		return model.Proposal{}, err
	}
	p.ID = "p-new"
	p.Status = model.ProposalStatus(form.Values[portal.KeyStatus])
	f.proposals = append(f.proposals, p)
	if f.echoIDOnly {
		return model.Proposal{ID: p.ID, Status: p.Status}, nil
	}
	return p, nil
}

func (f *fakeBackend) UpdateProposal(_ context.Context, _ *model.Session, step model.StepTag, id string, form *portal.Form) (model.Proposal, error) {
	f.count(portal.OpUpdateProposal)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, form)
	f.updatedID = id
	if f.submitErr != nil {
		return model.Proposal{}, f.submitErr
	}
	p, err := f.store(step, form)
	if err != nil {
		return model.Proposal{}, err
	}
	for i := range f.proposals {
		if f.proposals[i].ID == id {
			p.ID = id
			p.Status = f.proposals[i].Status
			f.proposals[i] = p
			return p, nil
		}
	}
	return model.Proposal{}, model.NewNotFoundError("proposal")
}

func (f *fakeBackend) lastForm() *portal.Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

type harness struct {
	backend *fakeBackend
	drafts  *draft.MemoryStore
	metrics *observability.Metrics
	ctrl    *Controller
	now     time.Time
}

func newHarness(t *testing.T, step model.StepTag) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(step),
		drafts:  draft.NewMemoryStore(time.Hour),
		metrics: observability.InitMetrics(prometheus.NewRegistry()),
		now:     testNow,
	}
	h.ctrl = NewController(h.backend, h.drafts, Options{Now: func() time.Time { return h.now }}, h.metrics, nil)
	return h
}

func csvSheet(lines ...string) Spreadsheet {
	return Spreadsheet{Filename: "upload.csv", Body: strings.NewReader(strings.Join(lines, "\n"))}
}

const (
	toolRow1 = "1,Lab,Praktikum,IKU-1,Mikroskop,Binokuler,2,unit,1500000,CV Sinar,3000000,1"
	toolRow2 = "2,Lab,Praktikum,IKU-2,Proyektor,4K,1,unit,2000000,PT Terang,2000000"
)

func TestLoad_defaultsWithoutProposal(t *testing.T) {
	h := newHarness(t, model.StepFundDisbursement)

	v, err := h.ctrl.Load(context.Background(), testSess, testRef)
	require.NoError(t, err)

	assert.Equal(t, model.StageOpen, v.State, "a stage opens at midnight of its start day")
	assert.True(t, v.Editable)
	assert.Nil(t, v.Proposal)
	assert.Equal(t, &model.FundDisbursementData{}, v.Draft.Data)
	require.NotNil(t, v.Summary)
	assert.Equal(t, model.PercentUndefined, v.Summary.Combined.PercentText)
	assert.Equal(t, 1, h.backend.calls[portal.OpGetTimeline])
	assert.Equal(t, 1, h.backend.calls[portal.OpGetTimelineEvent])
	assert.Zero(t, h.drafts.Len(), "loading does not store a draft")
}

func TestTimeline(t *testing.T) {
	h := newHarness(t, model.StepTag("budget"))

	v, err := h.ctrl.Timeline(context.Background(), testSess, "tl-1")
	require.NoError(t, err)
	require.Len(t, v.Stages, 2)
	assert.Equal(t, model.StageClosed, v.Stages[0].State)
	assert.True(t, v.Stages[0].Known)
	assert.Equal(t, model.StageOpen, v.Stages[1].State)
	assert.False(t, v.Stages[1].Known, "unknown step tags are listed but flagged")
	assert.Equal(t, "ev-1", v.Active)

	_, err = h.ctrl.Timeline(context.Background(), testSess, "tl-404")
	assert.True(t, model.IsCode(err, model.ErrNotFound))
	_, err = h.ctrl.Timeline(context.Background(), nil, "tl-1")
	assert.True(t, model.IsCode(err, model.ErrUnauthorized))
}

func TestLoad_populatesFromOwnProposal(t *testing.T) {
	h := newHarness(t, model.StepMonitoringAndEvaluation)
	h.backend.proposals = []model.Proposal{
		{ID: "p-other", Owner: "dept-1", Data: &model.MonitoringAndEvaluationData{Research: "bukan milik kita"}},
		{ID: "p-own", Owner: "dept-9", Status: model.StatusRevision, Data: &model.MonitoringAndEvaluationData{Research: "temuan"}},
	}

	v, err := h.ctrl.Load(context.Background(), testSess, testRef)
	require.NoError(t, err)
	require.NotNil(t, v.Proposal)
	assert.Equal(t, "p-own", v.Proposal.ID)
	assert.Equal(t, "p-own", v.Draft.ProposalID)
	assert.Equal(t, "temuan", v.Draft.Data.(*model.MonitoringAndEvaluationData).Research)
	assert.Nil(t, v.Summary)
}

func TestPickProposal(t *testing.T) {
	list := []model.Proposal{{ID: "a", Owner: "x"}, {ID: "b"}, {ID: "c", Owner: "me"}}
	assert.Equal(t, "c", PickProposal(list, "me").ID)
	assert.Equal(t, "b", PickProposal(list, "someone").ID)
	assert.Nil(t, PickProposal(list[:1], "someone"))
	assert.Nil(t, PickProposal(nil, "me"))
}

func TestLoad_unknownStage(t *testing.T) {
	h := newHarness(t, model.StepTag("budget"))
	_, err := h.ctrl.Load(context.Background(), testSess, testRef)
	assert.True(t, model.IsCode(err, model.ErrUnknownStage))
}

func TestLoad_stageOfAnotherTimeline(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	h.backend.event.TimelineID = "tl-2"
	_, err := h.ctrl.Load(context.Background(), testSess, testRef)
	assert.True(t, model.IsCode(err, model.ErrNotFound))
}

func TestLoad_requiresSession(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	_, err := h.ctrl.Load(context.Background(), nil, testRef)
	assert.True(t, model.IsCode(err, model.ErrUnauthorized))
}

func TestEdits_rejectedUnlessOpen(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		state model.StageState
	}{
		{"before start day", time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), model.StageNotStarted},
		{"at finish", time.Date(2026, 3, 20, 17, 0, 0, 0, time.UTC), model.StageClosed},
		{"after finish", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), model.StageClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, model.StepSelection)
			h.now = tt.now
			ctx := context.Background()

			v, err := h.ctrl.Load(ctx, testSess, testRef)
			require.NoError(t, err)
			assert.Equal(t, tt.state, v.State)
			assert.False(t, v.Editable)

			_, err = h.ctrl.SetField(ctx, testSess, testRef, stage.FieldLeader, "Dr. Sari")
			assert.True(t, model.IsCode(err, model.ErrStageNotOpen), "SetField: %v", err)
			_, err = h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldIKU, csvSheet())
			assert.True(t, model.IsCode(err, model.ErrStageNotOpen), "Ingest: %v", err)
			_, err = h.ctrl.Submit(ctx, testSess, testRef)
			assert.True(t, model.IsCode(err, model.ErrStageNotOpen), "Submit: %v", err)
			assert.Zero(t, h.backend.calls[portal.OpCreateProposal])
		})
	}
}

func TestSetField(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	ctx := context.Background()

	v, err := h.ctrl.SetField(ctx, testSess, testRef, stage.FieldLeader, "Dr. Sari")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Draft.Version)

	v, err = h.ctrl.Load(ctx, testSess, testRef)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Sari", v.Draft.Data.(*model.SelectionData).Leader)

	_, err = h.ctrl.SetField(ctx, testSess, testRef, stage.FieldFile, "x.pdf")
	assert.True(t, model.IsCode(err, model.ErrBadRequest), "file field via SetField: %v", err)
	_, err = h.ctrl.SetField(ctx, testSess, testRef, "budget", "1")
	assert.True(t, model.IsCode(err, model.ErrBadRequest))

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.EditsTotal.WithLabelValues("selection", OpSetField, observability.OutcomeOK)))
}

func TestIngest_replacesTableAndSummary(t *testing.T) {
	h := newHarness(t, model.StepFundDisbursement)
	ctx := context.Background()

	res, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, csvSheet(
		"No,Unit,Sub",
		toolRow1,
		toolRow2,
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.True(t, res.MarkerFound)

	tools := res.View.Draft.Data.(*model.FundDisbursementData).Tools
	require.Len(t, tools, 2)
	assert.Equal(t, model.FlagNotAccepted, tools[1].Accepted, "missing flag column defaults to 0")
	assert.Equal(t, "3000000", res.View.Summary.Tools.AcceptedTotal.String())
	assert.Equal(t, "5000000", res.View.Summary.Tools.ProposedTotal.String())

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.IngestionsTotal.WithLabelValues("tools", observability.OutcomeOK)))
}

func TestIngest_noMarkerYieldsEmptyTable(t *testing.T) {
	h := newHarness(t, model.StepFundDisbursement)
	ctx := context.Background()
	_, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, csvSheet(toolRow1))
	require.NoError(t, err)

	res, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, csvSheet("No,Unit", "2,Lab"))
	require.NoError(t, err)
	assert.False(t, res.MarkerFound)
	assert.Zero(t, res.Rows)
	assert.Empty(t, res.View.Draft.Data.(*model.FundDisbursementData).Tools)
}

func TestIngest_failureKeepsPriorTable(t *testing.T) {
	h := newHarness(t, model.StepFundDisbursement)
	ctx := context.Background()
	_, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, csvSheet(toolRow1))
	require.NoError(t, err)

	_, err = h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, Spreadsheet{Filename: "tools.xlsx", Body: strings.NewReader("not a workbook")})
	assert.True(t, model.IsCode(err, model.ErrIngestionFailed), "got %v", err)

	v, err := h.ctrl.Load(ctx, testSess, testRef)
	require.NoError(t, err)
	assert.Len(t, v.Draft.Data.(*model.FundDisbursementData).Tools, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.IngestionsTotal.WithLabelValues("tools", observability.OutcomeError)))
}

func TestIngest_rejectsNonTableField(t *testing.T) {
	h := newHarness(t, model.StepEvent)
	_, err := h.ctrl.Ingest(context.Background(), testSess, testRef, stage.FieldActivity, csvSheet(toolRow1))
	assert.True(t, model.IsCode(err, model.ErrBadRequest))
}

// hookReader runs hook on its first Read, simulating work that happens
// while an upload is still being parsed.
type hookReader struct {
	r    io.Reader
	hook func()
	once sync.Once
}

func (h *hookReader) Read(p []byte) (int, error) {
	h.once.Do(h.hook)
	return h.r.Read(p)
}

func TestIngest_staleCompletionDiscarded(t *testing.T) {
	h := newHarness(t, model.StepFundDisbursement)
	ctx := context.Background()
	key := draft.Key{StageID: testRef.StageID, Actor: testSess.DepartmentID}

	slow := &hookReader{
		r: strings.NewReader(toolRow1),
		hook: func() {
			// A second upload of the same table starts meanwhile.
			d, found, err := h.drafts.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, found)
			d.BeginIngest(stage.FieldTools)
			require.NoError(t, h.drafts.Update(ctx, d))
		},
	}

	_, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, Spreadsheet{Filename: "tools.csv", Body: slow})
	assert.True(t, model.IsCode(err, model.ErrStaleIngestion), "got %v", err)

	d, _, err := h.drafts.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, d.Data.(*model.FundDisbursementData).Tools)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.IngestionsTotal.WithLabelValues("tools", observability.OutcomeStale)))
}

func TestEventActivities(t *testing.T) {
	h := newHarness(t, model.StepEvent)
	ctx := context.Background()

	_, err := h.ctrl.AppendActivity(ctx, testSess, testRef, "Persiapan")
	require.NoError(t, err)
	_, err = h.ctrl.ReplaceActivity(ctx, testSess, testRef, 0, "Persiapan Acara")
	require.NoError(t, err)

	funding := &Spreadsheet{Filename: "funding.csv", Body: strings.NewReader(strings.Join([]string{
		"RINCIAN DANA,,,,,",
		"No,Item,Volume,Satuan,Harga,Total",
		"1,Snack,100,box,15000,1500000",
		"2,,,,,",
		"3,Sewa aula,1,hari,2000000,2000000",
	}, "\n"))}
	_, err = h.ctrl.AppendSubActivity(ctx, testSess, testRef, 0, "Konsumsi", funding)
	require.NoError(t, err)

	v, err := h.ctrl.ReplaceSubActivity(ctx, testSess, testRef, 0, 0, "Konsumsi dan Tempat", nil)
	require.NoError(t, err)

	ev := v.Draft.Data.(*model.EventData)
	require.Len(t, ev.Activities, 1)
	assert.Equal(t, "Persiapan Acara", ev.Activities[0].Name)
	require.Len(t, ev.Activities[0].SubActivities, 1)
	sub := ev.Activities[0].SubActivities[0]
	assert.Equal(t, "Konsumsi dan Tempat", sub.Name)
	require.Len(t, sub.Funding, 2, "rows with an empty item are skipped")
	assert.Equal(t, "Sewa aula", sub.Funding[1].Item)

	_, err = h.ctrl.AppendSubActivity(ctx, testSess, testRef, 5, "x", nil)
	assert.True(t, model.IsCode(err, model.ErrBadRequest))
}

func TestSubmit_validationError(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	ctx := context.Background()
	_, err := h.ctrl.SetField(ctx, testSess, testRef, stage.FieldLeader, "Dr. Sari")
	require.NoError(t, err)

	_, err = h.ctrl.Submit(ctx, testSess, testRef)
	require.True(t, model.IsCode(err, model.ErrValidationError), "got %v", err)

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	var fields []string
	for _, d := range env.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{stage.FieldFile, stage.FieldDescription}, fields)
	assert.Zero(t, h.backend.calls[portal.OpCreateProposal])
}

func fillSelection(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ctrl.SetField(ctx, testSess, testRef, stage.FieldLeader, "Dr. Sari")
	require.NoError(t, err)
	_, err = h.ctrl.SetField(ctx, testSess, testRef, stage.FieldDescription, "<p>Hibah</p>")
	require.NoError(t, err)
	_, err = h.ctrl.AttachFile(ctx, testSess, testRef, stage.FieldFile, draft.Upload{Filename: "proposal.pdf", ContentType: "application/pdf", Content: []byte("%PDF")})
	require.NoError(t, err)
}

func TestSubmit_createsWithStatusSend(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	fillSelection(t, h)

	res, err := h.ctrl.Submit(context.Background(), testSess, testRef)
	require.NoError(t, err)
	assert.Equal(t, ModeCreate, res.Mode)
	assert.Equal(t, "p-new", res.Proposal.ID)
	assert.Equal(t, model.StatusSend, res.Proposal.Status)

	form := h.backend.lastForm()
	assert.Equal(t, string(model.StatusSend), form.Values[portal.KeyStatus])
	assert.Equal(t, testRef.StageID, form.Values[portal.KeyTimelineEvent])
	require.Len(t, form.Files, 1)
	assert.Equal(t, "proposal.pdf", form.Files[0].Filename)

	d, _, err := h.drafts.Get(context.Background(), draft.Key{StageID: "ev-1", Actor: "dept-9"})
	require.NoError(t, err)
	assert.Equal(t, "p-new", d.ProposalID)
	assert.Empty(t, d.Uploads)
	assert.Equal(t, "uploads/proposal.pdf", d.Data.(*model.SelectionData).File)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SubmissionsTotal.WithLabelValues("selection", ModeCreate, observability.OutcomeOK)))
}

func TestSubmit_idOnlyEchoKeepsLocalData(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	h.backend.echoIDOnly = true
	fillSelection(t, h)
	ctx := context.Background()

	res, err := h.ctrl.Submit(ctx, testSess, testRef)
	require.NoError(t, err)
	assert.Equal(t, "p-new", res.Proposal.ID)
	require.NotNil(t, res.Proposal.Data)
	assert.Equal(t, "Dr. Sari", res.Proposal.Data.(*model.SelectionData).Leader)

	v, err := h.ctrl.Load(ctx, testSess, testRef)
	require.NoError(t, err)
	sel := v.Draft.Data.(*model.SelectionData)
	assert.Equal(t, "Dr. Sari", sel.Leader)
	assert.Equal(t, "<p>Hibah</p>", sel.Description)
	assert.Equal(t, "p-new", v.Draft.ProposalID)
}

func TestSubmit_updatesExistingWithoutStatus(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	fillSelection(t, h)
	ctx := context.Background()

	_, err := h.ctrl.Submit(ctx, testSess, testRef)
	require.NoError(t, err)
	h.backend.proposals[0].Status = model.StatusRevision

	_, err = h.ctrl.SetField(ctx, testSess, testRef, stage.FieldLeader, "Dr. Budi")
	require.NoError(t, err)
	res, err := h.ctrl.Submit(ctx, testSess, testRef)
	require.NoError(t, err)

	assert.Equal(t, ModeUpdate, res.Mode)
	assert.Equal(t, "p-new", h.backend.updatedID)
	_, hasStatus := h.backend.lastForm().Values[portal.KeyStatus]
	assert.False(t, hasStatus, "the submitter never sends a status on update")
	assert.Equal(t, model.StatusRevision, res.Proposal.Status)
	assert.Equal(t, "uploads/proposal.pdf", h.backend.lastForm().Values[stage.FieldFile], "existing file reference is sent as text")
	assert.Equal(t, 1, h.backend.calls[portal.OpCreateProposal])
}

func TestSubmit_failureKeepsDraft(t *testing.T) {
	h := newHarness(t, model.StepSelection)
	fillSelection(t, h)
	h.backend.submitErr = model.NewBackendRejectedError("stage closed on the server")
	ctx := context.Background()

	_, err := h.ctrl.Submit(ctx, testSess, testRef)
	assert.True(t, model.IsCode(err, model.ErrBackendRejected))

	d, found, err := h.drafts.Get(ctx, draft.Key{StageID: "ev-1", Actor: "dept-9"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, d.ProposalID)
	assert.True(t, d.Attached(stage.FieldFile))
	assert.Equal(t, "Dr. Sari", d.Data.(*model.SelectionData).Leader)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SubmissionsTotal.WithLabelValues("selection", ModeCreate, observability.OutcomeError)))
}

func TestSummary(t *testing.T) {
	h := newHarness(t, model.StepReportAndSPJ)
	ctx := context.Background()
	_, err := h.ctrl.Ingest(ctx, testSess, testRef, stage.FieldTools, csvSheet(toolRow1, toolRow2))
	require.NoError(t, err)

	s, err := h.ctrl.Summary(ctx, testSess, testRef)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Tools.Total)
	assert.Equal(t, 1, s.Tools.Accepted)
	assert.Equal(t, "60.00", s.Tools.PercentText)

	hs := newHarness(t, model.StepSelection)
	_, err = hs.ctrl.Summary(ctx, testSess, testRef)
	assert.True(t, model.IsCode(err, model.ErrBadRequest))
}
