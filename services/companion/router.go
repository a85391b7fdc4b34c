package companion

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Streams outlive the request timeout and are rate limited by
		// connection count, not request rate.
		r.Get("/stream", a.handleStream)
		r.Get("/stream/ws", a.handleStreamWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(httprate.Limit(100, time.Minute))

			r.Get("/devices", a.handleListDevices)
			r.Post("/devices/claim", a.handleClaimDevice)
			r.Post("/devices/{hostname}/release", a.handleReleaseDevice)

			r.Post("/devices/{hostname}/config", a.handleUploadConfig)
			r.Post("/devices/{hostname}/rollback", a.handleRollback)
			r.Get("/devices/{hostname}/snapshots", a.handleListSnapshots)
			r.Get("/devices/{hostname}/history", a.handleHistory)
			r.Get("/devices/{hostname}/birth", a.handleBirth)

			r.Get("/schema/contracts", a.handleListContracts)
			r.Get("/schema/contracts/{name}", a.handleContract)
		})
	})

	return r, nil
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store.DB != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.store.DB.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
