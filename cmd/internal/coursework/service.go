package coursework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
	"lyceum/cmd/internal/cache"
	"lyceum/cmd/internal/metrics"
	"lyceum/cmd/internal/notify"
	"lyceum/cmd/internal/realtime"
	v1 "lyceum/shared/contracts/realtime/v1"
)

// Notifier is the slice of the realtime dispatcher the write path needs.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, n realtime.Notice) (notify.Notification, error)
	SendToRoom(ctx context.Context, room string, n realtime.Notice) (int, error)
}

// Deps are the collaborators of Service. Cache, Audit and Log may be nil.
type Deps struct {
	Store    Store
	Users    identity.Directory
	Notifier Notifier
	Cache    *cache.Coordinator
	Audit    audit.Sink
	Log      *slog.Logger
}

// Service runs grading and enrollment operations on behalf of an instructor.
type Service struct {
	store    Store
	users    identity.Directory
	notifier Notifier
	cache    *cache.Coordinator
	audit    audit.Sink
	log      *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Users == nil || d.Notifier == nil {
		return nil, errors.New("coursework: service requires store, users and notifier")
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		store:    d.Store,
		users:    d.Users,
		notifier: d.Notifier,
		cache:    d.Cache,
		audit:    d.Audit,
		log:      d.Log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// GradeResult is the committed grade of one submission.
type GradeResult struct {
	SubmissionID string    `json:"submissionId"`
	StudentID    string    `json:"-"`
	Grade        float64   `json:"grade"`
	Feedback     string    `json:"feedback"`
	GradedAt     time.Time `json:"gradedAt"`
	Status       Status    `json:"status"`

	// NotificationID is 0 when the notification could not be persisted.
	NotificationID int64 `json:"notificationId,omitempty"`
}

// BulkResult reports a committed bulk grade. Notification failures never undo grades.
type BulkResult struct {
	Graded               []GradeResult `json:"graded"`
	NotificationFailures int           `json:"notificationFailures"`
}

// GradeAssignment grades one SUBMITTED submission of a course owned by instructorID.
//
// Preconditions fail with ErrNotFound, ErrForbidden, ErrInvalidState or ErrOutOfRange and
// change nothing. After the write commits the instructor's pending-grading and student-detail
// views are invalidated and the student is notified; if that notification cannot be persisted
// the committed result is returned together with ErrNotificationFailed.
func (s *Service) GradeAssignment(ctx context.Context, instructorID string, in GradeInput) (GradeResult, error) {
	const op = "grading.grade"
	started := time.Now()

	ref, in, err := s.checkGrade(ctx, instructorID, in)
	if err != nil {
		s.fail(ctx, op, "submission", in.SubmissionID, instructorID, started, err)
		return GradeResult{}, err
	}

	sub, err := s.store.GradeSubmission(ctx, GradeUpdate{
		SubmissionID: in.SubmissionID,
		Grade:        in.Grade,
		Feedback:     in.Feedback,
		GradedAt:     s.now(),
	})
	if err != nil {
		s.fail(ctx, op, "submission", in.SubmissionID, instructorID, started, err)
		return GradeResult{}, err
	}

	s.cache.Invalidate(ctx, instructorID, cache.KindPendingGrading, cache.KindStudentDetail)

	res := gradeResult(sub)
	nid, nerr := s.notifyGraded(ctx, ref, res)
	res.NotificationID = nid

	outcome := "success"
	if nerr != nil {
		outcome = "notify_failed"
	}
	metrics.RecordCourseworkOp(op, outcome, started)
	s.audit.LogBusinessOperation(ctx, audit.BusinessOperation{
		Op:         op,
		EntityType: "submission",
		EntityID:   sub.ID,
		UserID:     instructorID,
		Outcome:    "success",
		Context: map[string]any{
			"student_id":    sub.StudentID,
			"grade":         res.Grade,
			"total_points":  ref.Assignment.TotalPoints,
			"notify_failed": nerr != nil,
		},
	})

	if nerr != nil {
		return res, fmt.Errorf("%w: %v", ErrNotificationFailed, nerr)
	}
	return res, nil
}

// BulkGradeAssignments validates every item (all preconditions, duplicates included) before
// writing anything, applies all grades in one transaction, then invalidates and notifies per
// item. A validation failure is an *ItemError naming the offending item.
func (s *Service) BulkGradeAssignments(ctx context.Context, instructorID string, items []GradeInput) (BulkResult, error) {
	const op = "grading.bulk_grade"
	started := time.Now()

	if len(items) == 0 || len(items) > maxBulkItems {
		err := opErr(op, ErrInvalidInput, fmt.Sprintf("between 1 and %d grades required", maxBulkItems))
		s.fail(ctx, op, "submission", "", instructorID, started, err)
		return BulkResult{}, err
	}

	refs := make([]SubmissionRef, len(items))
	updates := make([]GradeUpdate, len(items))
	seen := make(map[string]int, len(items))
	now := s.now()

	for i, item := range items {
		ref, norm, err := s.checkGrade(ctx, instructorID, item)
		if err == nil {
			if first, dup := seen[norm.SubmissionID]; dup {
				err = opErr(op, ErrInvalidInput, fmt.Sprintf("duplicate of item %d", first))
			}
		}
		if err != nil {
			ierr := &ItemError{Index: i, SubmissionID: norm.SubmissionID, Err: err}
			s.fail(ctx, op, "submission", norm.SubmissionID, instructorID, started, err)
			return BulkResult{}, ierr
		}
		seen[norm.SubmissionID] = i
		refs[i] = ref
		updates[i] = GradeUpdate{
			SubmissionID: norm.SubmissionID,
			Grade:        norm.Grade,
			Feedback:     norm.Feedback,
			GradedAt:     now,
		}
	}

	subs, err := s.store.GradeSubmissions(ctx, updates)
	if err != nil {
		s.fail(ctx, op, "submission", "", instructorID, started, err)
		return BulkResult{}, err
	}

	// Every item shares the owner, so one pass covers all of them.
	s.cache.Invalidate(ctx, instructorID, cache.KindPendingGrading, cache.KindStudentDetail)

	out := BulkResult{Graded: make([]GradeResult, 0, len(subs))}
	for i, sub := range subs {
		res := gradeResult(sub)
		nid, nerr := s.notifyGraded(ctx, refs[i], res)
		if nerr != nil {
			out.NotificationFailures++
		}
		res.NotificationID = nid
		out.Graded = append(out.Graded, res)
	}

	metrics.RecordCourseworkOp(op, "success", started)
	s.audit.LogBusinessOperation(ctx, audit.BusinessOperation{
		Op:         op,
		EntityType: "submission",
		UserID:     instructorID,
		Outcome:    "success",
		Context: map[string]any{
			"count":                 len(subs),
			"notification_failures": out.NotificationFailures,
		},
	})
	return out, nil
}

// checkGrade loads the submission and applies every precondition in order: not found,
// forbidden, invalid state, out of range.
func (s *Service) checkGrade(ctx context.Context, instructorID string, in GradeInput) (SubmissionRef, GradeInput, error) {
	in, err := in.normalize()
	if err != nil {
		return SubmissionRef{}, in, err
	}
	ref, err := s.store.FindSubmission(ctx, in.SubmissionID)
	if err != nil {
		return SubmissionRef{}, in, err
	}
	if ref.Course.InstructorID != instructorID {
		return SubmissionRef{}, in, opErr("coursework.Grade", ErrForbidden, "course is owned by another instructor")
	}
	if ref.Submission.Status != StatusSubmitted {
		return SubmissionRef{}, in, opErr("coursework.Grade", ErrInvalidState, "submission is "+string(ref.Submission.Status))
	}
	if in.Grade < 0 || in.Grade > ref.Assignment.TotalPoints {
		return SubmissionRef{}, in, opErr("coursework.Grade", ErrOutOfRange,
			fmt.Sprintf("grade %v outside [0, %v]", in.Grade, ref.Assignment.TotalPoints))
	}
	return ref, in, nil
}

func (s *Service) notifyGraded(ctx context.Context, ref SubmissionRef, res GradeResult) (int64, error) {
	rec, err := s.notifier.SendToUser(ctx, res.StudentID, realtime.Notice{
		Event: v1.AssignmentGraded{
			SubmissionID:    res.SubmissionID,
			AssignmentID:    ref.Assignment.ID,
			AssignmentTitle: ref.Assignment.Title,
			CourseID:        ref.Course.ID,
			Grade:           res.Grade,
			TotalPoints:     ref.Assignment.TotalPoints,
			Feedback:        res.Feedback,
			GradedAt:        res.GradedAt,
		},
		Title:    "Assignment graded",
		Message:  fmt.Sprintf("%s was graded: %g/%g", ref.Assignment.Title, res.Grade, ref.Assignment.TotalPoints),
		Priority: v1.PriorityHigh,
	})
	if err != nil {
		s.log.Error("grading.notify.fail",
			"submission_id", res.SubmissionID,
			"student_id", res.StudentID,
			"err", err,
		)
		return 0, err
	}
	return rec.ID, nil
}

// EnrollStudent enrolls an active student into a course owned by instructorID and notifies the
// student. Duplicate enrollments fail with ErrConflict.
func (s *Service) EnrollStudent(ctx context.Context, instructorID, courseID, studentID string) (Enrollment, error) {
	const op = "enrollment.create"
	started := time.Now()
	courseID, studentID = strings.TrimSpace(courseID), strings.TrimSpace(studentID)

	course, err := s.ownedCourse(ctx, instructorID, courseID)
	if err != nil {
		s.fail(ctx, op, "course", courseID, instructorID, started, err)
		return Enrollment{}, err
	}

	u, err := s.users.FindUser(ctx, studentID)
	switch {
	case identity.IsNotFound(err), identity.IsInvalidInput(err):
		err = opErr("coursework.Enroll", ErrNotFound, "student")
	case err != nil:
	case !u.Active || u.Role != identity.RoleStudent:
		err = opErr("coursework.Enroll", ErrInvalidInput, "target is not an active student")
	}
	if err != nil {
		s.fail(ctx, op, "course", courseID, instructorID, started, err)
		return Enrollment{}, err
	}

	e := Enrollment{CourseID: course.ID, StudentID: u.ID, EnrolledAt: s.now()}
	if err := s.store.Enroll(ctx, e); err != nil {
		s.fail(ctx, op, "course", courseID, instructorID, started, err)
		return Enrollment{}, err
	}

	s.cache.Invalidate(ctx, instructorID, cache.KindCourseRoster, cache.KindStudentDetail, cache.KindPendingGrading)

	_, nerr := s.notifier.SendToUser(ctx, u.ID, realtime.Notice{
		Event: v1.EnrollmentCreated{
			CourseID:    course.ID,
			CourseTitle: course.Title,
			EnrolledAt:  e.EnrolledAt,
		},
		Title:   "Enrolled",
		Message: "You were enrolled in " + course.Title,
	})

	outcome := "success"
	if nerr != nil {
		outcome = "notify_failed"
		s.log.Error("enrollment.notify.fail", "course_id", course.ID, "student_id", u.ID, "err", nerr)
	}
	metrics.RecordCourseworkOp(op, outcome, started)
	s.audit.LogBusinessOperation(ctx, audit.BusinessOperation{
		Op:         op,
		EntityType: "course",
		EntityID:   course.ID,
		UserID:     instructorID,
		Outcome:    "success",
		Context:    map[string]any{"student_id": u.ID},
	})

	if nerr != nil {
		return e, fmt.Errorf("%w: %v", ErrNotificationFailed, nerr)
	}
	return e, nil
}

// Announce pushes a live announcement to everyone currently in the course room. Nothing is
// persisted; the returned count is the number of connections reached.
func (s *Service) Announce(ctx context.Context, instructorID, courseID, title, message string) (int, error) {
	const op = "course.announce"
	started := time.Now()

	course, err := s.ownedCourse(ctx, instructorID, strings.TrimSpace(courseID))
	if err != nil {
		s.fail(ctx, op, "course", courseID, instructorID, started, err)
		return 0, err
	}
	title, message = strings.TrimSpace(title), strings.TrimSpace(message)
	if title == "" && message == "" {
		err := opErr("coursework.Announce", ErrInvalidInput, "title or message required")
		s.fail(ctx, op, "course", courseID, instructorID, started, err)
		return 0, err
	}

	n, err := s.notifier.SendToRoom(ctx, realtime.CourseRoom(course.ID).String(), realtime.Notice{
		Event: v1.Announcement{
			CourseID: course.ID,
			AuthorID: instructorID,
			Title:    title,
			Message:  message,
		},
		Title:    title,
		Message:  message,
		Priority: v1.PriorityNormal,
	})
	if err != nil {
		s.fail(ctx, op, "course", course.ID, instructorID, started, err)
		return 0, err
	}
	metrics.RecordCourseworkOp(op, "success", started)
	return n, nil
}

func (s *Service) ownedCourse(ctx context.Context, instructorID, courseID string) (Course, error) {
	if courseID == "" {
		return Course{}, opErr("coursework.Course", ErrInvalidInput, "missing course id")
	}
	c, err := s.store.FindCourse(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	if c.InstructorID != instructorID {
		return Course{}, opErr("coursework.Course", ErrForbidden, "course is owned by another instructor")
	}
	return c, nil
}

func (s *Service) fail(ctx context.Context, op, entityType, entityID, userID string, started time.Time, err error) {
	outcome := "failed"
	switch {
	case errors.Is(err, ErrForbidden):
		outcome = "denied"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrOutOfRange), errors.Is(err, ErrConflict):
		outcome = "rejected"
	default:
		s.log.Error("coursework.op.fail", "op", op, "entity_id", entityID, "user_id", userID, "err", err)
	}
	metrics.RecordCourseworkOp(op, outcome, started)
	s.audit.LogBusinessOperation(ctx, audit.BusinessOperation{
		Op:         op,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Outcome:    outcome,
		Context:    map[string]any{"err": err.Error()},
	})
}

func gradeResult(sub Submission) GradeResult {
	r := GradeResult{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		Feedback:     sub.Feedback,
		Status:       sub.Status,
	}
	if sub.Grade != nil {
		r.Grade = *sub.Grade
	}
	if sub.GradedAt != nil {
		r.GradedAt = *sub.GradedAt
	}
	return r
}
