package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/hibah/internal/audit"
	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/lifecycle"
	"github.com/pitabwire/hibah/internal/review"
	"github.com/pitabwire/hibah/model"
)

// --- Test helpers ---

// sessionMiddleware injects a Session and CapabilitySet into the request.
func sessionMiddleware(sess *model.Session, caps model.CapabilitySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sess != nil {
				ctx = model.WithSession(ctx, sess)
			}
			ctx = WithCapabilities(ctx, caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func testSession() *model.Session {
	return &model.Session{
		SubjectID:    "user-1",
		Email:        "user@example.com",
		DepartmentID: "dept-7",
		Roles:        []string{"staff"},
		Token:        "token-1",
	}
}

// serve routes a single request through a chi router holding one handler.
func serve(method, pattern string, handler http.HandlerFunc, req *http.Request, sess *model.Session) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(sessionMiddleware(sess, model.CapabilitySet{"*": true}))
	r.Method(method, pattern, handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest builds a multipart body with the given values and, when
// filename is set, a "file" part.
func multipartRequest(t *testing.T, method, path string, values map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("response has no error envelope")
	}
	return body.Error
}

// --- Stub services ---

type call struct {
	op       string
	ref      lifecycle.Ref
	field    string
	value    string
	index    int
	sub      int
	filename string
	content  string
	hasSheet bool
}

type stubProposals struct {
	calls []call
	err   error
	mode  string
}

func (s *stubProposals) record(c call) (*lifecycle.View, error) {
	s.calls = append(s.calls, c)
	if s.err != nil {
		return nil, s.err
	}
	return &lifecycle.View{State: model.StageOpen, Editable: true}, nil
}

func (s *stubProposals) last() call {
	if len(s.calls) == 0 {
		return call{}
	}
	return s.calls[len(s.calls)-1]
}

func (s *stubProposals) Timeline(_ context.Context, _ *model.Session, timelineID string) (*lifecycle.TimelineView, error) {
	s.calls = append(s.calls, call{op: "timeline", ref: lifecycle.Ref{TimelineID: timelineID}})
	if s.err != nil {
		return nil, s.err
	}
	return &lifecycle.TimelineView{Timeline: model.Timeline{ID: timelineID}, Active: "ev-1"}, nil
}

func (s *stubProposals) Load(_ context.Context, _ *model.Session, ref lifecycle.Ref) (*lifecycle.View, error) {
	return s.record(call{op: "load", ref: ref})
}

func (s *stubProposals) Summary(_ context.Context, _ *model.Session, ref lifecycle.Ref) (model.FundingSummary, error) {
	s.calls = append(s.calls, call{op: "summary", ref: ref})
	if s.err != nil {
		return model.FundingSummary{}, s.err
	}
	return model.FundingSummary{Tools: model.TableSummary{Total: 3, Accepted: 1}}, nil
}

func (s *stubProposals) SetField(_ context.Context, _ *model.Session, ref lifecycle.Ref, name, value string) (*lifecycle.View, error) {
	return s.record(call{op: "set", ref: ref, field: name, value: value})
}

func (s *stubProposals) Ingest(_ context.Context, _ *model.Session, ref lifecycle.Ref, field string, sheet lifecycle.Spreadsheet) (*lifecycle.IngestResult, error) {
	content, _ := io.ReadAll(sheet.Body)
	v, err := s.record(call{op: "ingest", ref: ref, field: field, filename: sheet.Filename, content: string(content)})
	if err != nil {
		return nil, err
	}
	return &lifecycle.IngestResult{View: v, Rows: 2, MarkerFound: true}, nil
}

func (s *stubProposals) AttachFile(_ context.Context, _ *model.Session, ref lifecycle.Ref, field string, u draft.Upload) (*lifecycle.View, error) {
	return s.record(call{op: "attach", ref: ref, field: field, filename: u.Filename, content: string(u.Content)})
}

func (s *stubProposals) AppendActivity(_ context.Context, _ *model.Session, ref lifecycle.Ref, name string) (*lifecycle.View, error) {
	return s.record(call{op: "append-activity", ref: ref, value: name})
}

func (s *stubProposals) ReplaceActivity(_ context.Context, _ *model.Session, ref lifecycle.Ref, index int, name string) (*lifecycle.View, error) {
	return s.record(call{op: "replace-activity", ref: ref, index: index, value: name})
}

func (s *stubProposals) AppendSubActivity(_ context.Context, _ *model.Session, ref lifecycle.Ref, activity int, name string, sheet *lifecycle.Spreadsheet) (*lifecycle.View, error) {
	c := call{op: "append-sub", ref: ref, index: activity, value: name, hasSheet: sheet != nil}
	if sheet != nil {
		c.filename = sheet.Filename
	}
	return s.record(c)
}

func (s *stubProposals) ReplaceSubActivity(_ context.Context, _ *model.Session, ref lifecycle.Ref, activity, index int, name string, sheet *lifecycle.Spreadsheet) (*lifecycle.View, error) {
	return s.record(call{op: "replace-sub", ref: ref, index: activity, sub: index, value: name, hasSheet: sheet != nil})
}

func (s *stubProposals) Submit(_ context.Context, _ *model.Session, ref lifecycle.Ref) (*lifecycle.SubmitResult, error) {
	v, err := s.record(call{op: "submit", ref: ref})
	if err != nil {
		return nil, err
	}
	return &lifecycle.SubmitResult{Proposal: model.Proposal{ID: "p-1", Status: model.StatusSend}, Mode: s.mode, View: v}, nil
}

type stubReviews struct {
	proposalID string
	decision   review.Decision
	err        error
}

func (s *stubReviews) Load(_ context.Context, _ *model.Session, _ lifecycle.Ref, proposalID string) (*review.View, error) {
	s.proposalID = proposalID
	if s.err != nil {
		return nil, s.err
	}
	return &review.View{Proposal: &model.Proposal{ID: "p-1"}}, nil
}

func (s *stubReviews) Submit(_ context.Context, _ *model.Session, _ lifecycle.Ref, d review.Decision) (*review.Result, error) {
	s.decision = d
	if s.err != nil {
		return nil, s.err
	}
	return &review.Result{Proposal: model.Proposal{ID: d.ProposalID, Status: d.Status}}, nil
}

func (s *stubReviews) History(_ context.Context, _ *model.Session, _ lifecycle.Ref, proposalID string) ([]audit.Entry, error) {
	s.proposalID = proposalID
	if s.err != nil {
		return nil, s.err
	}
	return []audit.Entry{{ProposalID: proposalID, From: model.StatusSend, To: model.StatusApprove, Reviewer: "rev-1", At: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)}}, nil
}

const stagePattern = "/ui/timelines/{timelineId}/stages/{stageId}"

// --- Proposal handlers ---

func TestHandleGetTimeline(t *testing.T) {
	svc := &stubProposals{}
	w := serve("GET", "/ui/timelines/{timelineId}", handleGetTimeline(svc),
		httptest.NewRequest("GET", "/ui/timelines/tl-1", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var got struct {
		Timeline struct {
			ID string `json:"id"`
		} `json:"timeline"`
		Active string `json:"active"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Timeline.ID != "tl-1" || got.Active != "ev-1" {
		t.Errorf("timeline = %+v", got)
	}
}

func TestHandleGetStage_passesRef(t *testing.T) {
	svc := &stubProposals{}
	w := serve("GET", stagePattern, handleGetStage(svc),
		httptest.NewRequest("GET", "/ui/timelines/tl-1/stages/ev-2", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := lifecycle.Ref{TimelineID: "tl-1", StageID: "ev-2"}
	if got := svc.last().ref; got != want {
		t.Errorf("ref = %+v, want %+v", got, want)
	}
}

func TestHandleGetStage_withoutSession(t *testing.T) {
	svc := &stubProposals{}
	w := serve("GET", stagePattern, handleGetStage(svc),
		httptest.NewRequest("GET", "/ui/timelines/tl-1/stages/ev-2", nil), nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(svc.calls) != 0 {
		t.Error("service should not be called without a session")
	}
}

func TestHandleGetStage_mapsServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewStageNotOpenError(model.StageClosed), http.StatusConflict},
		{model.NewUnknownStageError("Mystery"), http.StatusUnprocessableEntity},
		{model.NewNotFoundError("no such stage"), http.StatusNotFound},
		{model.NewBackendUnavailableError(), http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &stubProposals{err: tt.err}
		w := serve("GET", stagePattern, handleGetStage(svc),
			httptest.NewRequest("GET", "/ui/timelines/tl-1/stages/ev-2", nil), testSession())
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestHandleGetSummary(t *testing.T) {
	svc := &stubProposals{}
	w := serve("GET", stagePattern+"/summary", handleGetSummary(svc),
		httptest.NewRequest("GET", "/ui/timelines/tl-1/stages/ev-2/summary", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got model.FundingSummary
	json.NewDecoder(w.Body).Decode(&got)
	if got.Tools.Total != 3 || got.Tools.Accepted != 1 {
		t.Errorf("tools = %+v", got.Tools)
	}
}

func TestHandleSetField(t *testing.T) {
	svc := &stubProposals{}
	w := serve("PUT", stagePattern+"/fields/{field}", handleSetField(svc),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/fields/title", `{"value":"Clean water"}`), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.op != "set" || c.field != "title" || c.value != "Clean water" {
		t.Errorf("call = %+v", c)
	}
}

func TestHandleSetField_emptyValueAllowed(t *testing.T) {
	svc := &stubProposals{}
	w := serve("PUT", stagePattern+"/fields/{field}", handleSetField(svc),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/fields/title", `{"value":""}`), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
}

func TestHandleSetField_rejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", ``, http.StatusBadRequest},
		{"malformed", `{"value":`, http.StatusBadRequest},
		{"unknown field", `{"value":"x","extra":1}`, http.StatusBadRequest},
		{"missing value", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubProposals{}
			w := serve("PUT", stagePattern+"/fields/{field}", handleSetField(svc),
				jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/fields/title", tt.body), testSession())
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(svc.calls) != 0 {
				t.Error("service should not be called")
			}
		})
	}
}

func TestHandleSetField_validationDetailsUseJSONNames(t *testing.T) {
	svc := &stubProposals{}
	w := serve("PUT", stagePattern+"/fields/{field}", handleSetField(svc),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/fields/title", `{}`), testSession())

	ee := decodeError(t, w)
	if ee.Code != model.ErrValidationError {
		t.Fatalf("code = %q", ee.Code)
	}
	if len(ee.Details) != 1 || ee.Details[0].Field != "value" || ee.Details[0].Code != "REQUIRED" {
		t.Errorf("details = %+v", ee.Details)
	}
}

func TestHandleIngest_multipart(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/tables/tools", nil, "tools.csv", []byte("a,b\n"))
	w := serve("POST", stagePattern+"/tables/{field}", handleIngest(svc, 1<<20), req, testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.field != "tools" || c.filename != "tools.csv" || c.content != "a,b\n" {
		t.Errorf("call = %+v", c)
	}
	var res struct {
		Rows        int  `json:"rows"`
		MarkerFound bool `json:"marker_found"`
	}
	json.NewDecoder(w.Body).Decode(&res)
	if res.Rows != 2 || !res.MarkerFound {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleIngest_requiresFilePart(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/tables/tools", map[string]string{"note": "x"}, "", nil)
	w := serve("POST", stagePattern+"/tables/{field}", handleIngest(svc, 1<<20), req, testSession())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleIngest_rejectsJSONBody(t *testing.T) {
	svc := &stubProposals{}
	w := serve("POST", stagePattern+"/tables/{field}", handleIngest(svc, 1<<20),
		jsonRequest("POST", "/ui/timelines/tl-1/stages/ev-2/tables/tools", `{}`), testSession())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleIngest_oversizedUpload(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/tables/tools", nil, "big.csv", bytes.Repeat([]byte("x"), 2048))
	w := serve("POST", stagePattern+"/tables/{field}", handleIngest(svc, 1024), req, testSession())

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", w.Code, w.Body.String())
	}
	if ee := decodeError(t, w); ee.Code != model.ErrIngestionFailed {
		t.Errorf("code = %q", ee.Code)
	}
	if len(svc.calls) != 0 {
		t.Error("service should not be called")
	}
}

func TestHandleAttachFile(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/files/proposal_file", nil, "proposal.pdf", []byte("%PDF"))
	w := serve("POST", stagePattern+"/files/{field}", handleAttachFile(svc, 1<<20), req, testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.op != "attach" || c.field != "proposal_file" || c.filename != "proposal.pdf" || c.content != "%PDF" {
		t.Errorf("call = %+v", c)
	}
}

func TestHandleActivities(t *testing.T) {
	svc := &stubProposals{}

	w := serve("POST", stagePattern+"/activities", handleAppendActivity(svc),
		jsonRequest("POST", "/ui/timelines/tl-1/stages/ev-2/activities", `{"name":"Survey"}`), testSession())
	if w.Code != http.StatusCreated {
		t.Fatalf("append status = %d, want 201", w.Code)
	}
	if c := svc.last(); c.op != "append-activity" || c.value != "Survey" {
		t.Errorf("append call = %+v", c)
	}

	w = serve("PUT", stagePattern+"/activities/{index}", handleReplaceActivity(svc),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/activities/1", `{"name":"Drilling"}`), testSession())
	if w.Code != http.StatusOK {
		t.Fatalf("replace status = %d, want 200", w.Code)
	}
	if c := svc.last(); c.op != "replace-activity" || c.index != 1 || c.value != "Drilling" {
		t.Errorf("replace call = %+v", c)
	}
}

func TestHandleActivities_rejectsBadInput(t *testing.T) {
	svc := &stubProposals{}

	w := serve("PUT", stagePattern+"/activities/{index}", handleReplaceActivity(svc),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/activities/-1", `{"name":"x"}`), testSession())
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative index status = %d, want 400", w.Code)
	}

	w = serve("POST", stagePattern+"/activities", handleAppendActivity(svc),
		jsonRequest("POST", "/ui/timelines/tl-1/stages/ev-2/activities", `{"name":""}`), testSession())
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty name status = %d, want 422", w.Code)
	}

	long := strings.Repeat("n", 501)
	w = serve("POST", stagePattern+"/activities", handleAppendActivity(svc),
		jsonRequest("POST", "/ui/timelines/tl-1/stages/ev-2/activities", `{"name":"`+long+`"}`), testSession())
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("long name status = %d, want 422", w.Code)
	}

	if len(svc.calls) != 0 {
		t.Errorf("service called %d times, want 0", len(svc.calls))
	}
}

func TestHandleAppendSubActivity_json(t *testing.T) {
	svc := &stubProposals{}
	w := serve("POST", stagePattern+"/activities/{index}/sub-activities", handleAppendSubActivity(svc, 1<<20),
		jsonRequest("POST", "/ui/timelines/tl-1/stages/ev-2/activities/0/sub-activities", `{"name":"Pipes"}`), testSession())

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.op != "append-sub" || c.index != 0 || c.value != "Pipes" || c.hasSheet {
		t.Errorf("call = %+v", c)
	}
}

func TestHandleAppendSubActivity_multipartWithSheet(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/activities/2/sub-activities",
		map[string]string{"name": "Pumps"}, "pumps.csv", []byte("x"))
	w := serve("POST", stagePattern+"/activities/{index}/sub-activities", handleAppendSubActivity(svc, 1<<20), req, testSession())

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.index != 2 || c.value != "Pumps" || !c.hasSheet || c.filename != "pumps.csv" {
		t.Errorf("call = %+v", c)
	}
}

func TestHandleAppendSubActivity_multipartRequiresName(t *testing.T) {
	svc := &stubProposals{}
	req := multipartRequest(t, "POST", "/ui/timelines/tl-1/stages/ev-2/activities/2/sub-activities", nil, "pumps.csv", []byte("x"))
	w := serve("POST", stagePattern+"/activities/{index}/sub-activities", handleAppendSubActivity(svc, 1<<20), req, testSession())

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestHandleReplaceSubActivity(t *testing.T) {
	svc := &stubProposals{}
	w := serve("PUT", stagePattern+"/activities/{index}/sub-activities/{sub}", handleReplaceSubActivity(svc, 1<<20),
		jsonRequest("PUT", "/ui/timelines/tl-1/stages/ev-2/activities/1/sub-activities/3", `{"name":"Tanks"}`), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	c := svc.last()
	if c.op != "replace-sub" || c.index != 1 || c.sub != 3 || c.value != "Tanks" {
		t.Errorf("call = %+v", c)
	}
}

func TestHandleSubmit_statusByMode(t *testing.T) {
	tests := []struct {
		mode string
		want int
	}{
		{lifecycle.ModeCreate, http.StatusCreated},
		{lifecycle.ModeUpdate, http.StatusOK},
	}
	for _, tt := range tests {
		svc := &stubProposals{mode: tt.mode}
		w := serve("POST", stagePattern+"/submit", handleSubmit(svc),
			httptest.NewRequest("POST", "/ui/timelines/tl-1/stages/ev-2/submit", nil), testSession())
		if w.Code != tt.want {
			t.Errorf("mode %s: status = %d, want %d", tt.mode, w.Code, tt.want)
		}
	}
}

func TestHandleSubmit_validationFailure(t *testing.T) {
	svc := &stubProposals{err: model.NewValidationError([]model.FieldError{
		{Field: "proposal_file", Code: "REQUIRED", Message: "proposal_file is required"},
	})}
	w := serve("POST", stagePattern+"/submit", handleSubmit(svc),
		httptest.NewRequest("POST", "/ui/timelines/tl-1/stages/ev-2/submit", nil), testSession())

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	ee := decodeError(t, w)
	if len(ee.Details) != 1 || ee.Details[0].Field != "proposal_file" {
		t.Errorf("details = %+v", ee.Details)
	}
}

// --- Review handlers ---

const reviewPattern = "/ui/reviews/{timelineId}/{stageId}"

func TestHandleGetReview_proposalQuery(t *testing.T) {
	svc := &stubReviews{}
	w := serve("GET", reviewPattern, handleGetReview(svc),
		httptest.NewRequest("GET", "/ui/reviews/tl-1/ev-2?proposal=p-9", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.proposalID != "p-9" {
		t.Errorf("proposal id = %q, want p-9", svc.proposalID)
	}
}

func TestHandleSubmitReview(t *testing.T) {
	svc := &stubReviews{}
	body := `{"proposal_id":"p-1","comment":"Solid plan","status":"approve","score":87.5,"tool_flags":[true,false]}`
	w := serve("POST", reviewPattern, handleSubmitReview(svc),
		jsonRequest("POST", "/ui/reviews/tl-1/ev-2", body), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	d := svc.decision
	if d.ProposalID != "p-1" || d.Status != model.StatusApprove || d.Score != 87.5 || d.Comment != "Solid plan" {
		t.Errorf("decision = %+v", d)
	}
	if len(d.ToolFlags) != 2 || !d.ToolFlags[0] || d.ToolFlags[1] {
		t.Errorf("tool flags = %v", d.ToolFlags)
	}
	if d.IncentiveFlags != nil {
		t.Errorf("incentive flags = %v, want nil", d.IncentiveFlags)
	}
}

func TestHandleSubmitReview_rejectsInvalidDecision(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown status", `{"status":"maybe","score":10}`, "status"},
		{"missing status", `{"score":10}`, "status"},
		{"missing score", `{"status":"approve"}`, "score"},
		{"score too high", `{"status":"approve","score":101}`, "score"},
		{"negative score", `{"status":"approve","score":-1}`, "score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubReviews{}
			w := serve("POST", reviewPattern, handleSubmitReview(svc),
				jsonRequest("POST", "/ui/reviews/tl-1/ev-2", tt.body), testSession())
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", w.Code)
			}
			ee := decodeError(t, w)
			if len(ee.Details) != 1 || ee.Details[0].Field != tt.field {
				t.Errorf("details = %+v, want field %s", ee.Details, tt.field)
			}
		})
	}
}

func TestHandleReviewHistory(t *testing.T) {
	svc := &stubReviews{}
	w := serve("GET", reviewPattern+"/history", handleReviewHistory(svc),
		httptest.NewRequest("GET", "/ui/reviews/tl-1/ev-2/history?proposal=p-1", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Data []audit.Entry `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Data[0].To != model.StatusApprove {
		t.Errorf("history = %+v", body.Data)
	}
}

func TestHandleReviewHistory_forbidden(t *testing.T) {
	svc := &stubReviews{err: model.NewForbiddenError("missing capability proposal:review")}
	w := serve("GET", reviewPattern+"/history", handleReviewHistory(svc),
		httptest.NewRequest("GET", "/ui/reviews/tl-1/ev-2/history", nil), testSession())

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// --- Template handler ---

func TestHandleTemplate_redirectsToBaseURL(t *testing.T) {
	w := serve("GET", "/ui/templates/{table}", handleTemplate("https://cdn.example.com/templates"),
		httptest.NewRequest("GET", "/ui/templates/tools", nil), testSession())

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://cdn.example.com/templates/") {
		t.Errorf("Location = %q", loc)
	}
}

func TestHandleTemplate_generatesWorkbook(t *testing.T) {
	w := serve("GET", "/ui/templates/{table}", handleTemplate(""),
		httptest.NewRequest("GET", "/ui/templates/incentive", nil), testSession())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	// xlsx files are zip archives.
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("body is not an xlsx archive")
	}
}

func TestHandleTemplate_unknownTable(t *testing.T) {
	w := serve("GET", "/ui/templates/{table}", handleTemplate(""),
		httptest.NewRequest("GET", "/ui/templates/furniture", nil), testSession())

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
