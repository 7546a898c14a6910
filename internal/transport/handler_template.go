package transport

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleTemplate serves the upload template of a table kind. With a base
// URL configured the client is redirected to the static file; otherwise the
// workbook is generated.
func handleTemplate(baseURL string) http.HandlerFunc {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := model.ParseTableKind(chi.URLParam(r, "table"))
		if !ok {
			WriteError(w, model.NewNotFoundError("no template for table "+chi.URLParam(r, "table")))
			return
		}
		name := ingest.TemplateName(kind)
		if baseURL != "" {
			http.Redirect(w, r, baseURL+"/"+name, http.StatusFound)
			return
		}

		var buf bytes.Buffer
		if err := ingest.WriteTemplate(&buf, kind); err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}
