// Package api assembles the ledger HTTP surface.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/handlers"
	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/auth"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/summary"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the endpoints.
type Deps struct {
	Repo    ledger.Repository
	Summary *summary.Service
	Cache   cache.Cache
	Gate    *auth.Gate

	// AuthLimiter throttles POST /auth per client IP. Nil means 10 per minute
	// keyed on the peer address.
	AuthLimiter *middleware.IPLimiter

	// Jobs and Publisher back the invoice import endpoints; Publisher may be nil.
	Jobs      jobs.JobStore
	Publisher jobs.Publisher

	// Uploader backs POST /export; nil disables it.
	Uploader handlers.Uploader

	Log        zerolog.Logger
	CORSOrigin string

	// EntriesTTL bounds reuse of cached entry listings; zero keeps them
	// until a mutation invalidates them.
	EntriesTTL time.Duration

	Now func() time.Time
}

// NewRouter wires every endpoint and wraps them in the middleware chain.
func NewRouter(d Deps) http.Handler {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.AuthLimiter == nil {
		d.AuthLimiter = middleware.NewIPLimiter(0, nil)
	}

	authHandler := handlers.NewAuthHandler(d.Gate)
	entriesHandler := handlers.NewEntriesHandler(d.Repo, d.Cache, d.EntriesTTL)
	accountsHandler := handlers.NewAccountsHandler(d.Repo, d.Cache)
	summaryHandler := handlers.NewSummaryHandler(d.Summary, d.Now)
	transferHandler := handlers.NewTransferHandler(d.Repo, d.Cache)
	cacheHandler := handlers.NewCacheHandler(d.Cache)
	invoicesHandler := handlers.NewInvoicesHandler(d.Repo, d.Publisher, d.Now)
	exportHandler := handlers.NewExportHandler(d.Repo, d.Uploader, d.Now)

	mux := http.NewServeMux()

	// Auth endpoints; only PIN attempts are throttled
	limitedLogin := middleware.RateLimit(d.AuthLimiter)(http.HandlerFunc(authHandler.Login))
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			limitedLogin.ServeHTTP(w, r)
			return
		}
		authHandler.ServeHTTP(w, r)
	})

	// Ledger endpoints
	mux.Handle("/entries", entriesHandler)
	mux.Handle("/accounts", accountsHandler)
	mux.HandleFunc("/accounts/carrier", accountsHandler.Carrier)
	mux.HandleFunc("/summary", summaryHandler.GetSummary)
	mux.HandleFunc("/transfer", transferHandler.CreateTransfer)
	mux.HandleFunc("/cache/invalidate", cacheHandler.Invalidate)

	// Invoice endpoints
	mux.HandleFunc("/invoices", invoicesHandler.ListInvoices)
	mux.HandleFunc("/invoices/import", invoicesHandler.EnqueueImport)

	// Export endpoints
	mux.Handle("/export", exportHandler)

	// Jobs endpoints
	if d.Jobs != nil {
		jobsHandler := handlers.NewJobsHandler(d.Jobs)
		mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				jobsHandler.ListJobs(w, r)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})
		mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		})
	}

	// Health check endpoint
	mux.HandleFunc("/health", handlers.HealthHandler(d.Now))

	return middleware.Recovery(d.Log)(
		middleware.Logger(d.Log)(
			middleware.RequestID(
				middleware.CORS(d.CORSOrigin)(
					middleware.Auth(d.Gate, "/auth", "/health")(mux),
				),
			),
		),
	)
}
