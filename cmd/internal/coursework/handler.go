package coursework

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/httpx"
)

const maxBodyBytes = 1 << 20

// Handler is the instructor REST surface. Routes must be wrapped by auth.RequireUser.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the routes on mux, each wrapped by wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, wrap(h.instructorOnly(fn)))
	}
	route("POST /api/grade", h.grade)
	route("POST /api/grade/bulk", h.bulkGrade)
	route("GET /api/grading/pending", h.pending)
	route("GET /api/grading/students/{studentId}", h.studentDetail)
	route("POST /api/enrollments", h.enroll)
	route("GET /api/courses/{courseId}/roster", h.roster)
	route("POST /api/courses/{courseId}/announcements", h.announce)
}

func (h *Handler) instructorOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if id.Role != identity.RoleInstructor && id.Role != identity.RoleAdmin {
			httpx.WriteError(w, r, http.StatusForbidden, "instructors only")
			return
		}
		next(w, r)
	})
}

type gradeRequest struct {
	SubmissionID string   `json:"submissionId" validate:"required,notblank,max=128"`
	Grade        *float64 `json:"grade" validate:"required"`
	Feedback     string   `json:"feedback" validate:"max=10000"`
}

func (g gradeRequest) input() GradeInput {
	return GradeInput{SubmissionID: g.SubmissionID, Grade: *g.Grade, Feedback: g.Feedback}
}

type bulkGradeRequest struct {
	Grades []gradeRequest `json:"grades" validate:"required,min=1,max=500,dive"`
}

type enrollRequest struct {
	CourseID  string `json:"courseId" validate:"required,notblank,max=128"`
	StudentID string `json:"studentId" validate:"required,notblank,max=128"`
}

type announceRequest struct {
	Title   string `json:"title" validate:"max=200"`
	Message string `json:"message" validate:"required_without=Title,max=5000"`
}

// Values of notificationStatus on committed writes that notify a student.
const (
	notificationSent   = "sent"
	notificationFailed = "failed"
)

type gradeResponse struct {
	GradeResult
	NotificationStatus string `json:"notificationStatus"`
}

type enrollResponse struct {
	Enrollment
	NotificationStatus string `json:"notificationStatus"`
}

// notificationStatus reports the outcome in the body and mirrors a failure in X-Notification-Status.
func notificationStatus(w http.ResponseWriter, err error) string {
	if errors.Is(err, ErrNotificationFailed) {
		w.Header().Set("X-Notification-Status", notificationFailed)
		return notificationFailed
	}
	return notificationSent
}

func (h *Handler) grade(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req gradeRequest
	if err := httpx.DecodeAndValidate(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.GradeAssignment(r.Context(), id.UserID, req.input())
	if err != nil && !errors.Is(err, ErrNotificationFailed) {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, gradeResponse{GradeResult: res, NotificationStatus: notificationStatus(w, err)})
}

func (h *Handler) bulkGrade(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req bulkGradeRequest
	if err := httpx.DecodeAndValidate(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items := make([]GradeInput, len(req.Grades))
	for i, g := range req.Grades {
		items[i] = g.input()
	}

	res, err := h.svc.BulkGradeAssignments(r.Context(), id.UserID, items)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	items, err := h.svc.PendingGrading(r.Context(), id.UserID, r.URL.Query().Get("courseId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"submissions": items, "count": len(items)})
}

func (h *Handler) studentDetail(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	d, err := h.svc.StudentDetail(r.Context(), id.UserID, r.PathValue("studentId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req enrollRequest
	if err := httpx.DecodeAndValidate(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.svc.EnrollStudent(r.Context(), id.UserID, req.CourseID, req.StudentID)
	if err != nil && !errors.Is(err, ErrNotificationFailed) {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, enrollResponse{Enrollment: e, NotificationStatus: notificationStatus(w, err)})
}

func (h *Handler) roster(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	entries, err := h.svc.CourseRoster(r.Context(), id.UserID, r.PathValue("courseId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"students": entries, "count": len(entries)})
}

func (h *Handler) announce(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req announceRequest
	if err := httpx.DecodeAndValidate(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.svc.Announce(r.Context(), id.UserID, r.PathValue("courseId"), req.Title, req.Message)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"delivered": n, "sentAt": time.Now().UTC()})
}

// writeErr maps service errors to the REST envelope.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOutOfRange):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		h.log.Error("coursework.http.fail",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFrom(r.Context()),
			"err", err,
		)
	}
	httpx.WriteError(w, r, status, msg)
}
