package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"timetabled/internal/alerts"
	"timetabled/internal/metrics"
	"timetabled/internal/timetable"
)

type Deps struct {
	Repo      timetable.Repository
	Scheduler *alerts.Scheduler
	Metrics   *metrics.Collector

	// BaseContext bounds scheduler loops started over HTTP. Defaults to
	// context.Background.
	BaseContext      context.Context
	CORSAllowOrigins []string
}

type Server struct {
	r        *chi.Mux
	repo     timetable.Repository
	sched    *alerts.Scheduler
	metrics  *metrics.Collector
	baseCtx  context.Context
	validate *validator.Validate
}

func NewServer(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	origins := d.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}).Handler)

	baseCtx := d.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{r: r, repo: d.Repo, sched: d.Scheduler, metrics: d.Metrics, baseCtx: baseCtx, validate: newValidator()}

	r.Get("/health", s.health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/sms", func(r chi.Router) {
		r.Post("/send-custom-message", s.sendCustomMessage)
		r.Post("/test-sms", s.testSMS)
		r.Post("/start-scheduler", s.startScheduler)
		r.Post("/stop-scheduler", s.stopScheduler)
		r.Get("/scheduler-status", s.schedulerStatus)
		r.Put("/alert-config", s.updateAlertConfig)
		r.Post("/send-immediate-alert/{classID}", s.sendImmediateAlert)
		r.Get("/todays-schedule", s.todaysSchedule)
		r.Get("/deliveries", s.listDeliveries)
	})

	r.Route("/timetable", func(r chi.Router) {
		r.Post("/", s.createSessions)
		r.Get("/", s.listSessions)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.deleteSession)
	})

	r.Route("/students", func(r chi.Router) {
		r.Post("/", s.createStudent)
		r.Get("/", s.listStudents)
		r.Patch("/{id}", s.updateStudent)
	})

	return r
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduler": s.sched.Status(),
	})
}
