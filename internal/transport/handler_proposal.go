package transport

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/lifecycle"
	"github.com/pitabwire/hibah/model"
)

// ProposalService is the submitter side of the BFF.
type ProposalService interface {
	Timeline(ctx context.Context, sess *model.Session, timelineID string) (*lifecycle.TimelineView, error)
	Load(ctx context.Context, sess *model.Session, ref lifecycle.Ref) (*lifecycle.View, error)
	Summary(ctx context.Context, sess *model.Session, ref lifecycle.Ref) (model.FundingSummary, error)
	SetField(ctx context.Context, sess *model.Session, ref lifecycle.Ref, name, value string) (*lifecycle.View, error)
	Ingest(ctx context.Context, sess *model.Session, ref lifecycle.Ref, field string, sheet lifecycle.Spreadsheet) (*lifecycle.IngestResult, error)
	AttachFile(ctx context.Context, sess *model.Session, ref lifecycle.Ref, field string, u draft.Upload) (*lifecycle.View, error)
	AppendActivity(ctx context.Context, sess *model.Session, ref lifecycle.Ref, name string) (*lifecycle.View, error)
	ReplaceActivity(ctx context.Context, sess *model.Session, ref lifecycle.Ref, index int, name string) (*lifecycle.View, error)
	AppendSubActivity(ctx context.Context, sess *model.Session, ref lifecycle.Ref, activity int, name string, sheet *lifecycle.Spreadsheet) (*lifecycle.View, error)
	ReplaceSubActivity(ctx context.Context, sess *model.Session, ref lifecycle.Ref, activity, index int, name string, sheet *lifecycle.Spreadsheet) (*lifecycle.View, error)
	Submit(ctx context.Context, sess *model.Session, ref lifecycle.Ref) (*lifecycle.SubmitResult, error)
}

func stageRef(r *http.Request) lifecycle.Ref {
	return lifecycle.Ref{
		TimelineID: chi.URLParam(r, "timelineId"),
		StageID:    chi.URLParam(r, "stageId"),
	}
}

func requireSession(w http.ResponseWriter, r *http.Request) *model.Session {
	sess := model.SessionFrom(r.Context())
	if sess == nil {
		WriteError(w, model.NewUnauthorizedError("missing session"))
	}
	return sess
}

func handleGetTimeline(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		v, err := svc.Timeline(r.Context(), sess, chi.URLParam(r, "timelineId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleGetStage(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		v, err := svc.Load(r.Context(), sess, stageRef(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleGetSummary(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		s, err := svc.Summary(r.Context(), sess, stageRef(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s)
	}
}

func handleSetField(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		var body fieldRequest
		if err := decodeJSON(w, r, &body); err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.SetField(r.Context(), sess, stageRef(r), chi.URLParam(r, "field"), *body.Value)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleIngest(svc ProposalService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		if err := parseMultipart(w, r, maxUpload); err != nil {
			WriteError(w, err)
			return
		}
		u, err := formFile(r, "file", maxUpload, true)
		if err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.Ingest(r.Context(), sess, stageRef(r), chi.URLParam(r, "field"), lifecycle.Spreadsheet{
			Filename: u.filename,
			Body:     bytes.NewReader(u.content),
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleAttachFile(svc ProposalService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		if err := parseMultipart(w, r, maxUpload); err != nil {
			WriteError(w, err)
			return
		}
		u, err := formFile(r, "file", maxUpload, true)
		if err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.AttachFile(r.Context(), sess, stageRef(r), chi.URLParam(r, "field"), draft.Upload{
			Filename:    u.filename,
			ContentType: u.contentType,
			Content:     u.content,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleAppendActivity(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		var body activityRequest
		if err := decodeJSON(w, r, &body); err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.AppendActivity(r.Context(), sess, stageRef(r), body.Name)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, v)
	}
}

func handleReplaceActivity(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		index, err := pathIndex(r, "index")
		if err != nil {
			WriteError(w, err)
			return
		}
		var body activityRequest
		if err := decodeJSON(w, r, &body); err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.ReplaceActivity(r.Context(), sess, stageRef(r), index, body.Name)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

// subActivityInput reads a sub-activity name and optional funding sheet. A
// multipart body carries them as the name value and file part; a JSON body
// carries only the name.
func subActivityInput(w http.ResponseWriter, r *http.Request, maxUpload int64) (string, *lifecycle.Spreadsheet, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body activityRequest
		if err := decodeJSON(w, r, &body); err != nil {
			return "", nil, err
		}
		return body.Name, nil, nil
	}
	if err := parseMultipart(w, r, maxUpload); err != nil {
		return "", nil, err
	}
	body := activityRequest{Name: r.FormValue("name")}
	if err := validateStruct(&body); err != nil {
		return "", nil, err
	}
	u, err := formFile(r, "file", maxUpload, false)
	if err != nil || u == nil {
		return body.Name, nil, err
	}
	return body.Name, &lifecycle.Spreadsheet{Filename: u.filename, Body: bytes.NewReader(u.content)}, nil
}

func handleAppendSubActivity(svc ProposalService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		activity, err := pathIndex(r, "index")
		if err != nil {
			WriteError(w, err)
			return
		}
		name, sheet, err := subActivityInput(w, r, maxUpload)
		if err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.AppendSubActivity(r.Context(), sess, stageRef(r), activity, name, sheet)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, v)
	}
}

func handleReplaceSubActivity(svc ProposalService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		activity, err := pathIndex(r, "index")
		if err != nil {
			WriteError(w, err)
			return
		}
		sub, err := pathIndex(r, "sub")
		if err != nil {
			WriteError(w, err)
			return
		}
		name, sheet, err := subActivityInput(w, r, maxUpload)
		if err != nil {
			WriteError(w, err)
			return
		}
		v, err := svc.ReplaceSubActivity(r.Context(), sess, stageRef(r), activity, sub, name, sheet)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleSubmit(svc ProposalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}
		res, err := svc.Submit(r.Context(), sess, stageRef(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		status := http.StatusOK
		if res.Mode == lifecycle.ModeCreate {
			status = http.StatusCreated
		}
		WriteJSON(w, status, res)
	}
}
