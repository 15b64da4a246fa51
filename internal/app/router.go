package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/observability"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/jobs"
	"github.com/buildledger/buildledger/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	DocumentsHandler *documents.Handler
	PaymentsHandler  *payments.Handler
	ProfileHandler   *profile.Handler
	ReportHandler    *report.Handler
	JobHandler       *jobs.Handler
	// Files serves stored blobs by key under /files/.
	Files            http.Handler
}

// NewRouter constructs the chi.Router with BuildLedger defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.ReportHandler != nil {
		params.ReportHandler.MountRoutes(r)
	}
	if params.Files != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", params.Files))
	}

	// The processor authenticates with its signature, not a bearer token.
	if params.PaymentsHandler != nil {
		params.PaymentsHandler.MountWebhook(r)
	}

	r.Route("/api", func(r chi.Router) {
		rate := 0
		var auth AuthConfig
		if params.Config != nil {
			rate = params.Config.RateLimitPerMinute
			auth = AuthConfig{
				Secret:   []byte(params.Config.AuthJWTSecret),
				Issuer:   params.Config.AuthJWTIssuer,
				Audience: params.Config.AuthJWTAudience,
			}
		}
		auth.Logger = logger
		r.Use(RateLimit(rate))
		r.Use(OwnerAuth(auth))
		if params.DocumentsHandler != nil {
			params.DocumentsHandler.MountRoutes(r)
		}
		if params.PaymentsHandler != nil {
			params.PaymentsHandler.MountRoutes(r)
		}
		if params.ProfileHandler != nil {
			params.ProfileHandler.MountRoutes(r)
		}
	})

	return r
}
