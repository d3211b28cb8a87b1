package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/templates/{templateId}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.GetTemplate(w, r, chi.URLParam(r, "templateId"))
			})
			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				h.PutTemplate(w, r, chi.URLParam(r, "templateId"))
			})
		})
		r.Route("/jobs/{jobId}", func(r chi.Router) {
			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				h.PutJob(w, r, chi.URLParam(r, "jobId"))
			})
			r.Put("/status", func(w http.ResponseWriter, r *http.Request) {
				h.SetJobStatus(w, r, chi.URLParam(r, "jobId"))
			})
			r.Post("/media/{mediaId}", func(w http.ResponseWriter, r *http.Request) {
				h.UploadMedia(w, r, chi.URLParam(r, "jobId"), chi.URLParam(r, "mediaId"))
			})
		})
		r.Get("/media/*", func(w http.ResponseWriter, r *http.Request) {
			h.GetMedia(w, r, chi.URLParam(r, "*"))
		})
		r.Post("/reports", h.CreateReport)
		r.Route("/reports/{reportId}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.GetReport(w, r, chi.URLParam(r, "reportId"))
			})
			r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
				h.GetReportAudit(w, r, chi.URLParam(r, "reportId"))
			})
		})
		r.Post("/tasks", h.CreateTask)
		r.Post("/notifications", h.CreateNotification)
	})

	return r
}
