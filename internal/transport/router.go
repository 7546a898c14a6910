package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/config"
	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Proposals          ProposalService
	Reviews            ReviewService
	Readiness          observability.ReadinessChecks
	MetricsHandler     http.Handler
	Metrics            *observability.Metrics
	Logger             *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := deps.Config.Ingestion.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = ingest.DefaultMaxBytes
	}

	r := chi.NewRouter()

	// Global middleware (layers 1-4): applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, metricsPath(deps.Config), deps.MetricsHandler)
	}

	// Authenticated routes: full middleware chain (layers 5-10).
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildSession(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(MetricsRecording(deps.Metrics))

		view := RequireCapability(model.CapProposalView)
		submit := RequireCapability(model.CapProposalSubmit)
		reviewer := RequireCapability(model.CapProposalReview)

		if p := deps.Proposals; p != nil {
			r.With(view).Get("/ui/timelines/{timelineId}", handleGetTimeline(p))
			r.Route("/ui/timelines/{timelineId}/stages/{stageId}", func(r chi.Router) {
				r.With(view).Get("/summary", handleGetSummary(p))

				r.Group(func(r chi.Router) {
					r.Use(submit)
					r.Get("/", handleGetStage(p))
					r.Put("/fields/{field}", handleSetField(p))
					r.Post("/tables/{field}", handleIngest(p, maxUpload))
					r.Post("/files/{field}", handleAttachFile(p, maxUpload))
					r.Post("/activities", handleAppendActivity(p))
					r.Put("/activities/{index}", handleReplaceActivity(p))
					r.Post("/activities/{index}/sub-activities", handleAppendSubActivity(p, maxUpload))
					r.Put("/activities/{index}/sub-activities/{sub}", handleReplaceSubActivity(p, maxUpload))
					r.Post("/submit", handleSubmit(p))
				})
			})
		}

		if rv := deps.Reviews; rv != nil {
			r.Route("/ui/reviews/{timelineId}/{stageId}", func(r chi.Router) {
				r.Use(reviewer)
				r.Get("/", handleGetReview(rv))
				r.Post("/", handleSubmitReview(rv))
				r.Get("/history", handleReviewHistory(rv))
			})
		}

		r.With(view).Get("/ui/templates/{table}", handleTemplate(deps.Config.Templates.BaseURL))
	})

	return r
}

func metricsPath(cfg *config.Config) string {
	if p := cfg.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}
