package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/hibah/model"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldRequest struct {
	Value *string `json:"value" validate:"required,max=200000"`
}

type activityRequest struct {
	Name string `json:"name" validate:"required,max=500"`
}

type decisionRequest struct {
	ProposalID     string   `json:"proposal_id" validate:"omitempty,max=64"`
	Comment        string   `json:"comment" validate:"max=200000"`
	Status         string   `json:"status" validate:"required,oneof=send approve decline revision"`
	Score          *float64 `json:"score" validate:"required,gte=0,lte=100"`
	ToolFlags      []bool   `json:"tool_flags"`
	IncentiveFlags []bool   `json:"incentive_flags"`
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("request body is empty")
		}
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewBadRequestError(err.Error())
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, model.FieldError{
			Field:   fe.Field(),
			Code:    strings.ToUpper(fe.Tag()),
			Message: describe(fe),
		})
	}
	return model.NewValidationError(details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return fe.Field() + " is invalid"
}

// pathIndex parses a non-negative integer URL parameter.
func pathIndex(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.NewBadRequestError(fmt.Sprintf("%s must be a non-negative integer, got %q", name, raw))
	}
	return n, nil
}

// upload is a file read from a multipart request.
type upload struct {
	filename    string
	contentType string
	content     []byte
}

// parseMultipart parses a multipart body bounded by limit bytes.
func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		return model.NewBadRequestError("expected a multipart/form-data body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewIngestionFailedError(fmt.Sprintf("upload exceeds %d bytes", limit))
		}
		return model.NewBadRequestError("invalid multipart body: " + err.Error())
	}
	return nil
}

// formFile reads the named file part. A missing part is (nil, nil) unless
// required.
func formFile(r *http.Request, name string, limit int64, required bool) (*upload, error) {
	f, hdr, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		if required {
			return nil, model.NewBadRequestError("multipart part " + name + " is required")
		}
		return nil, nil
	}
	if err != nil {
		return nil, model.NewBadRequestError("reading multipart part " + name + ": " + err.Error())
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, model.NewBadRequestError("reading upload: " + err.Error())
	}
	if int64(len(content)) > limit {
		return nil, model.NewIngestionFailedError(fmt.Sprintf("upload exceeds %d bytes", limit))
	}
	ct := hdr.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &upload{filename: hdr.Filename, contentType: ct, content: content}, nil
}
