package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vidforge/internal/http/handlers"
	"vidforge/internal/infra"
	"vidforge/internal/middleware"
)

// Options configures the middleware stack around the handlers.
type Options struct {
	JWTSecret       string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	AllowedOrigins  []string
	RateLimitPerMin int
	// RateLimiter overrides the in-process limiter built from RateLimitPerMin.
	RateLimiter     middleware.Limiter
	Logger          *infra.Logger
	// StaticDir, when set, is served under /static for the file storage driver.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*infra.OrDiscard(opts.Logger)),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Route("/v1/videos", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))
		switch {
		case opts.RateLimiter != nil:
			r.Use(middleware.RateLimit(opts.RateLimiter))
		case opts.RateLimitPerMin > 0:
			r.Use(middleware.RateLimit(middleware.NewLocalLimiter(opts.RateLimitPerMin, time.Minute)))
		}
		r.Post("/", app.VideosCreate)
		r.Get("/", app.VideosList)
		r.Get("/{job_id}", app.VideoStatus)
		r.Post("/{job_id}/extend", app.VideoExtend)
		r.Get("/{job_id}/ledger", app.VideoLedger)
	})

	return r
}
