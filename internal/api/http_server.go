package api

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"turfie/internal/config"
	"turfie/internal/domain"
	"turfie/internal/export"
	"turfie/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ReservationService is the slot engine plus the read and admin surfaces the
// HTTP layer exposes.
type ReservationService interface {
	domain.SlotEngine
	Location() *time.Location
	PublicVenue(ctx context.Context, venueID int64) (*models.Venue, error)
	SearchVenues(ctx context.Context, city string) ([]*models.Venue, error)
	AdminVenues(ctx context.Context, actor models.Actor, status models.ApprovalStatus) ([]*models.Venue, error)
	OwnerVenues(ctx context.Context, actor models.Actor) ([]*models.Venue, error)
	CreateVenue(ctx context.Context, actor models.Actor, venue *models.Venue) (*models.Venue, error)
	PublicSlots(ctx context.Context, venueID int64, date time.Time) (iter.Seq[models.Slot], error)
	Reservation(ctx context.Context, reservationID int64, actor models.Actor) (*models.Reservation, error)
	VenueReservations(ctx context.Context, venueID int64, actor models.Actor, filter models.ReservationFilter) (*models.Venue, []*models.Reservation, error)
	VenueLedger(ctx context.Context, venueID int64, actor models.Actor, from, to time.Time) (*models.Venue, []*models.Reservation, error)
	MyReservations(ctx context.Context, actor models.Actor, filter models.ReservationFilter) ([]*models.Reservation, error)
	SetVenueApproval(ctx context.Context, venueID int64, actor models.Actor, status models.ApprovalStatus) (*models.Venue, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer exposes the reservation API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      ReservationService
	exporter *export.Exporter
	auth     *TokenAuth
	limiter  *rateLimiter
	validate *validator.Validate
	checks   map[string]ReadinessCheck
	logger   *zerolog.Logger
	server   *http.Server
}

func NewHTTPServer(cfg config.APIConfig, svc ReservationService, exporter *export.Exporter, checks map[string]ReadinessCheck, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		exporter: exporter,
		auth:     NewTokenAuth(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		validate: newValidator(),
		checks:   checks,
		logger:   logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recoverer(s.logger))
	r.Use(accessLog(s.logger))
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Get("/venues", s.handleSearchVenues)
			r.Get("/venues/{venueID}", s.handleGetVenue)
			r.Get("/venues/{venueID}/slots", s.handleListSlots)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.limiter.Middleware)

			r.Post("/venues", s.handleCreateVenue)
			r.Get("/me/venues", s.handleMyVenues)

			r.Post("/venues/{venueID}/reservations/validate", s.handleValidate)
			r.Post("/venues/{venueID}/reservations", s.handleSubmit)
			r.Get("/venues/{venueID}/reservations", s.handleVenueReservations)
			r.Get("/venues/{venueID}/reservations/export", s.handleExport)

			r.Get("/reservations/{reservationID}", s.handleGetReservation)
			r.Post("/reservations/{reservationID}/{action}", s.handleTransition)
			r.Get("/me/reservations", s.handleMyReservations)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(models.RoleAdmin))
				r.Get("/admin/venues", s.handleAdminVenues)
				r.Patch("/admin/venues/{venueID}/approval", s.handleSetApproval)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
