package portal

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/hibah/internal/stage"
	"github.com/pitabwire/hibah/model"
)

// Multipart keys the backend reads besides the per-stage data fields.
const (
	KeyTimelineEvent = "timelineEvent"
	KeyStatus        = "status"
	KeyComment       = "comment"
	KeyScores        = "scores"
)

// Upload is a file sent as a multipart file part.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// Form is an outbound multipart body.
type Form struct {
	Values map[string]string
	Files  []Upload
}

// Encode renders the form as multipart/form-data. Values are written in key
// order so bodies are reproducible.
func (f *Form) Encode() (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(f.Values))
	for k := range f.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, f.Values[k]); err != nil {
			return nil, "", fmt.Errorf("portal: write field %s: %w", k, err)
		}
	}

	for _, u := range f.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.Field, u.Filename))
		ct := u.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("portal: create part %s: %w", u.Field, err)
		}
		if _, err := pw.Write(u.Content); err != nil {
			return nil, "", fmt.Errorf("portal: write part %s: %w", u.Field, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("portal: close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// wireActivity is the backend form of an event activity.
type wireActivity struct {
	Name          string            `json:"name"`
	SubActivities []wireSubActivity `json:"subActivity"`
}

type wireSubActivity struct {
	Name    string   `json:"name"`
	Funding [][]cell `json:"funding"`
}

// cell is a table cell on the wire. The backend stores strings but older
// records carry bare numbers; both decode to their text.
type cell string

func (c *cell) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*c = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = cell(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("table cell %s is neither string nor number", b)
		}
		*c = cell(n.String())
	}
	return nil
}

func toRows(in [][]cell) [][]string {
	out := make([][]string, 0, len(in))
	for _, r := range in {
		row := make([]string, len(r))
		for i, c := range r {
			row[i] = string(c)
		}
		out = append(out, row)
	}
	return out
}

func fromRows(in [][]string) [][]cell {
	out := make([][]cell, 0, len(in))
	for _, r := range in {
		row := make([]cell, len(r))
		for i, c := range r {
			row[i] = cell(c)
		}
		out = append(out, row)
	}
	return out
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeFields renders the stage data as multipart values keyed by field
// name: text fields verbatim, tables and lists as JSON strings. A file field
// named in uploaded is left out so the file part takes its place.
func EncodeFields(data model.ProposalData, uploaded map[string]bool) (map[string]string, error) {
	spec, err := stage.Lookup(data.Step())
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(spec.Fields))
	for _, f := range spec.Fields {
		switch f.Kind {
		case stage.KindFile:
			if uploaded[f.Name] {
				continue
			}
			out[f.Name], _ = stage.Text(data, f.Name)
		case stage.KindText, stage.KindRichText:
			out[f.Name], _ = stage.Text(data, f.Name)
		case stage.KindTable:
			rows, _ := stage.TableRows(data, f.Name)
			s, err := jsonString(rows)
			if err != nil {
				return nil, fmt.Errorf("portal: encode %s: %w", f.Name, err)
			}
			out[f.Name] = s
		case stage.KindList:
			s, err := encodeList(data)
			if err != nil {
				return nil, fmt.Errorf("portal: encode %s: %w", f.Name, err)
			}
			out[f.Name] = s
		}
	}
	return out, nil
}

func encodeList(data model.ProposalData) (string, error) {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		items := d.Activities
		if items == nil {
			items = []string{}
		}
		return jsonString(items)
	case *model.EventData:
		acts := make([]wireActivity, 0, len(d.Activities))
		for _, a := range d.Activities {
			wa := wireActivity{Name: a.Name, SubActivities: make([]wireSubActivity, 0, len(a.SubActivities))}
			for _, s := range a.SubActivities {
				rows := make([][]string, 0, len(s.Funding))
				for _, r := range s.Funding {
					rows = append(rows, r.Cells())
				}
				wa.SubActivities = append(wa.SubActivities, wireSubActivity{Name: s.Name, Funding: fromRows(rows)})
			}
			acts = append(acts, wa)
		}
		return jsonString(acts)
	}
	return "", fmt.Errorf("stage %s has no list field", data.Step())
}

// EncodeProposal builds the create or update body for a submitter's save.
// Only a create carries a status, and that status is always send.
func EncodeProposal(stageID string, data model.ProposalData, uploads []Upload, create bool) (*Form, error) {
	uploaded := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		uploaded[u.Field] = true
	}
	values, err := EncodeFields(data, uploaded)
	if err != nil {
		return nil, err
	}
	values[KeyTimelineEvent] = stageID
	if create {
		values[KeyStatus] = string(model.StatusSend)
	}
	return &Form{Values: values, Files: uploads}, nil
}

// ReviewUpdate is a reviewer's decision as sent to the update endpoint.
// Tools and Incentives are sent only when FlagsEdited is set.
type ReviewUpdate struct {
	Comment     string
	Status      model.ProposalStatus
	Score       float64
	FlagsEdited bool
	Tools       []model.ToolRow
	Incentives  []model.IncentiveRow
}

// EncodeReview builds the update body for a reviewer decision.
func EncodeReview(r ReviewUpdate) (*Form, error) {
	values := map[string]string{
		KeyComment: r.Comment,
		KeyStatus:  string(r.Status),
		KeyScores:  strconv.FormatFloat(r.Score, 'f', -1, 64),
	}
	if r.FlagsEdited {
		data := &model.FundDisbursementData{Tools: r.Tools, Incentives: r.Incentives}
		for _, name := range []string{stage.FieldTools, stage.FieldIncentive} {
			rows, _ := stage.TableRows(data, name)
			s, err := jsonString(rows)
			if err != nil {
				return nil, fmt.Errorf("portal: encode %s: %w", name, err)
			}
			values[name] = s
		}
	}
	return &Form{Values: values}, nil
}

// DecodeData decodes a backend data object for step. Tables and lists may be
// embedded JSON strings, as the multipart form stores them, or plain JSON.
// Keys that are not fields of the stage, such as backend bookkeeping columns,
// are ignored; a known field whose value has the wrong shape is an error.
func DecodeData(step model.StepTag, raw json.RawMessage) (model.ProposalData, error) {
	spec, err := stage.Lookup(step)
	if err != nil {
		return nil, err
	}
	data, err := stage.NewData(step)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("portal: decode %s data: %w", step, err)
	}

	for name, v := range fields {
		f, ok := spec.Field(name)
		if !ok {
			continue
		}
		if err := decodeField(data, f, v); err != nil {
			return nil, fmt.Errorf("portal: decode %s.%s: %w", step, name, err)
		}
	}
	return data, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeField(data model.ProposalData, f stage.Field, v json.RawMessage) error {
	if isNull(v) {
		return nil
	}
	if f.Kind == stage.KindTable || f.Kind == stage.KindList {
		inner, err := unwrapString(v)
		if err != nil {
			return err
		}
		if isNull(inner) {
			return nil
		}
		v = inner
	}

	switch f.Kind {
	case stage.KindTable:
		var rows [][]cell
		if err := json.Unmarshal(v, &rows); err != nil {
			return err
		}
		return stage.SetTable(data, f.Name, toRows(rows))
	case stage.KindList:
		return decodeList(data, v)
	default:
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		return stage.SetText(data, f.Name, s)
	}
}

// unwrapString returns the JSON embedded in a JSON string, or v unchanged
// when it is not a string.
func unwrapString(v json.RawMessage) (json.RawMessage, error) {
	t := bytes.TrimSpace(v)
	if len(t) == 0 || t[0] != '"' {
		return t, nil
	}
	var s string
	if err := json.Unmarshal(t, &s); err != nil {
		return nil, err
	}
	return json.RawMessage(strings.TrimSpace(s)), nil
}

func decodeList(data model.ProposalData, v json.RawMessage) error {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		var items []string
		if err := json.Unmarshal(v, &items); err != nil {
			return err
		}
		d.Activities = items
		return nil
	case *model.EventData:
		var acts []wireActivity
		if err := json.Unmarshal(v, &acts); err != nil {
			return err
		}
		d.Activities = make([]model.EventActivity, 0, len(acts))
		for _, a := range acts {
			ea := model.EventActivity{Name: a.Name, SubActivities: make([]model.SubActivity, 0, len(a.SubActivities))}
			for _, s := range a.SubActivities {
				funding := make([]model.FundingRow, 0, len(s.Funding))
				for _, r := range toRows(s.Funding) {
					funding = append(funding, model.FundingRowFromCells(r))
				}
				ea.SubActivities = append(ea.SubActivities, model.SubActivity{Name: s.Name, Funding: funding})
			}
			d.Activities = append(d.Activities, ea)
		}
		return nil
	}
	return fmt.Errorf("stage %s has no list field", data.Step())
}

// ref is an id that the backend sends either bare or as a populated object.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("reference %s is neither id nor object", b)
	}
	*r = ref(cmp.Or(obj.ID, obj.MongoID))
	return nil
}

// number accepts a JSON number, a numeric string or null.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("score %q is not a number", s)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type wireProposal struct {
	ID            string          `json:"id"`
	MongoID       string          `json:"_id"`
	TimelineEvent ref             `json:"timelineEvent"`
	Owner         ref             `json:"owner"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Status        string          `json:"status"`
	Comment       string          `json:"comment"`
	Scores        number          `json:"scores"`
	Data          json.RawMessage `json:"data"`
}

// DecodeProposal decodes a backend proposal whose data belongs to step.
func DecodeProposal(step model.StepTag, raw json.RawMessage) (model.Proposal, error) {
	var w wireProposal
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Proposal{}, fmt.Errorf("portal: decode proposal: %w", err)
	}
	data, err := DecodeData(step, w.Data)
	if err != nil {
		return model.Proposal{}, err
	}
	status := model.ProposalStatus(strings.ToLower(strings.TrimSpace(w.Status)))
	if status == "" {
		status = model.StatusSend
	}
	if !status.Valid() {
		return model.Proposal{}, fmt.Errorf("portal: decode proposal: unknown status %q", w.Status)
	}
	return model.Proposal{
		ID:          cmp.Or(w.ID, w.MongoID),
		StageID:     string(w.TimelineEvent),
		Owner:       string(w.Owner),
		Title:       w.Title,
		Description: w.Description,
		Status:      status,
		Comment:     w.Comment,
		Score:       float64(w.Scores),
		Data:        data,
	}, nil
}

type wireTimeline struct {
	ID          string `json:"id"`
	MongoID     string `json:"_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Participant string `json:"participant"`
	Status      string `json:"status"`
}

// DecodeTimeline decodes a backend timeline.
func DecodeTimeline(raw json.RawMessage) (model.Timeline, error) {
	var w wireTimeline
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Timeline{}, fmt.Errorf("portal: decode timeline: %w", err)
	}
	return model.Timeline{
		ID:          cmp.Or(w.ID, w.MongoID),
		Title:       w.Title,
		Description: w.Description,
		Scope:       model.ParticipantScope(strings.ToLower(w.Participant)),
		Status:      strings.ToLower(w.Status),
	}, nil
}

type wireEvent struct {
	model.TimelineEvent
	MongoID  string `json:"_id"`
	Timeline ref    `json:"timeline"`
}

// DecodeTimelineEvent decodes a backend stage. The step tag is normalised;
// an unknown tag is kept as sent so the registry can reject it.
func DecodeTimelineEvent(raw json.RawMessage) (model.TimelineEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.TimelineEvent{}, fmt.Errorf("portal: decode timeline event: %w", err)
	}
	ev := w.TimelineEvent
	ev.ID = cmp.Or(ev.ID, w.MongoID)
	ev.TimelineID = string(w.Timeline)
	return ev, nil
}
