package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eledia/assessmentreport/internal/handler/views"
	"github.com/eledia/assessmentreport/internal/model"
	"github.com/eledia/assessmentreport/internal/report"
	"github.com/eledia/assessmentreport/internal/store"
)

var reportsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "assessment_reports_rendered_total",
	Help: "Course reports rendered, by output format.",
}, []string{"format"})

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	reports *report.Builder
	config  model.ReportConfig
}

// New creates a new Handler.
func New(s *store.Store, cfg model.ReportConfig) (*Handler, error) {
	return &Handler{store: s, reports: report.New(s), config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/logout", h.handleLogout)
			r.Get("/", h.handleIndex)
			r.Get("/course_overview", h.handleCourseOverview)
			r.Post("/course_overview", h.handleCourseOverviewPDF)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.ViewerRoleAdmin))
				r.Get("/users", h.handleAdminViewersPage)
				r.Post("/users", h.handleCreateViewer)
				r.Post("/users/{viewerID}/toggle", h.handleToggleViewerActive)
				r.Get("/import", h.handleAdminImportPage)
				r.Post("/import", h.handleImportSnapshot)
			})
		})
	})
}

// BasePathMiddleware makes the deployment base path available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context())
	if err != nil {
		slog.Error("failed to list courses", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	visible, err := h.reports.VisibleCourses(r.Context(), model.ViewerFromContext(r.Context()), courses)
	if err != nil {
		slog.Error("failed to check course capability", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.CourseListPage(visible).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// loadReport resolves the courseid parameter, checks the capability and
// builds the report. It writes the error response itself and returns nil
// when the request cannot be served.
func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) *model.CourseReport {
	courseID, err := strconv.ParseInt(r.FormValue("courseid"), 10, 64)
	if err != nil || courseID <= 0 {
		http.Error(w, "invalid course ID", http.StatusBadRequest)
		return nil
	}

	ok, err := h.reports.CanView(r.Context(), model.ViewerFromContext(r.Context()), courseID)
	if err != nil {
		slog.Error("failed to check course capability", "course_id", courseID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	if !ok {
		// Unknown courses report 404 even without the capability.
		c, err := h.store.GetCourse(r.Context(), courseID)
		if err != nil {
			slog.Error("failed to look up course", "course_id", courseID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return nil
		}
		if c == nil {
			http.Error(w, "course not found", http.StatusNotFound)
			return nil
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}

	rep, err := h.reports.Build(r.Context(), courseID)
	if errors.Is(err, report.ErrCourseNotFound) {
		http.Error(w, "course not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		slog.Error("failed to build report", "course_id", courseID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	return rep
}

func (h *Handler) handleCourseOverview(w http.ResponseWriter, r *http.Request) {
	rep := h.loadReport(w, r)
	if rep == nil {
		return
	}

	table := report.RenderTable(r.Context(), rep.Records, h.config.HostURL)
	reportsRendered.WithLabelValues("html").Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.CourseOverviewPage(rep, table).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleCourseOverviewPDF(w http.ResponseWriter, r *http.Request) {
	rep := h.loadReport(w, r)
	if rep == nil {
		return
	}

	var buf bytes.Buffer
	if err := report.RenderPDF(r.Context(), &buf, rep, h.config.HostURL); err != nil {
		slog.Error("failed to render PDF", "course_id", rep.Course.ID, "error", err)
		http.Error(w, "failed to render PDF", http.StatusInternalServerError)
		return
	}
	reportsRendered.WithLabelValues("pdf").Inc()

	name := report.PDFFileName(rep.Course, rep.GeneratedAt)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("failed to write PDF", "course_id", rep.Course.ID, "error", err)
	}
	slog.Info("served course report PDF", "course_id", rep.Course.ID, "records", len(rep.Records))
}
