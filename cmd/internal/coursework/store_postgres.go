package coursework

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lyceum/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the courses, assignments, submissions and enrollments
// tables. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the coursework tables (default "lyceum").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.CheckSchema("coursework", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("coursework: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) t(name string) string { return pgsql.Ident(s.schema, name) }

func (s *PostgresStore) FindCourse(ctx context.Context, courseID string) (Course, error) {
	var c Course
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, instructor_id, created_at
		  FROM `+s.t("courses")+`
		 WHERE id = $1`, strings.TrimSpace(courseID),
	).Scan(&c.ID, &c.Title, &c.InstructorID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Course{}, opErr("coursework.FindCourse", ErrNotFound, "course")
	}
	return c, err
}

func (s *PostgresStore) FindSubmission(ctx context.Context, submissionID string) (SubmissionRef, error) {
	var ref SubmissionRef
	sub := &ref.Submission
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.assignment_id, s.student_id, s.status, s.grade, s.feedback, s.submitted_at, s.graded_at,
		       a.id, a.course_id, a.title, a.total_points, a.created_at,
		       c.id, c.title, c.instructor_id, c.created_at
		  FROM `+s.t("submissions")+` s
		  JOIN `+s.t("assignments")+` a ON a.id = s.assignment_id
		  JOIN `+s.t("courses")+` c ON c.id = a.course_id
		 WHERE s.id = $1`, strings.TrimSpace(submissionID),
	).Scan(
		&sub.ID, &sub.AssignmentID, &sub.StudentID, &status, &sub.Grade, &sub.Feedback, &sub.SubmittedAt, &sub.GradedAt,
		&ref.Assignment.ID, &ref.Assignment.CourseID, &ref.Assignment.Title, &ref.Assignment.TotalPoints, &ref.Assignment.CreatedAt,
		&ref.Course.ID, &ref.Course.Title, &ref.Course.InstructorID, &ref.Course.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubmissionRef{}, opErr("coursework.FindSubmission", ErrNotFound, "submission")
	}
	if err != nil {
		return SubmissionRef{}, err
	}
	sub.Status = Status(status)
	return ref, nil
}

func (s *PostgresStore) GradeSubmission(ctx context.Context, u GradeUpdate) (Submission, error) {
	out, err := s.GradeSubmissions(ctx, []GradeUpdate{u})
	if err != nil {
		return Submission{}, err
	}
	return out[0], nil
}

func (s *PostgresStore) GradeSubmissions(ctx context.Context, us []GradeUpdate) ([]Submission, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const op = "coursework.GradeSubmissions"
	out := make([]Submission, 0, len(us))
	for _, u := range us {
		var sub Submission
		var status string
		err := tx.QueryRow(ctx, `
			UPDATE `+s.t("submissions")+`
			   SET status = 'GRADED', grade = $2, feedback = $3, graded_at = $4
			 WHERE id = $1
			   AND status = 'SUBMITTED'
			RETURNING id, assignment_id, student_id, status, grade, feedback, submitted_at, graded_at`,
			u.SubmissionID, u.Grade, u.Feedback, u.GradedAt.UTC(),
		).Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &status, &sub.Grade, &sub.Feedback, &sub.SubmittedAt, &sub.GradedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.casFailure(ctx, tx, op, u.SubmissionID)
		}
		if err != nil {
			return nil, fmt.Errorf("grade %s: %w", u.SubmissionID, err)
		}
		sub.Status = Status(status)
		out = append(out, sub)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// casFailure tells a missing submission apart from one that is no longer SUBMITTED.
func (s *PostgresStore) casFailure(ctx context.Context, tx pgx.Tx, op, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM `+s.t("submissions")+` WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return opErr(op, ErrNotFound, id)
	case err != nil:
		return err
	default:
		return opErr(op, ErrInvalidState, id+" is "+status)
	}
}

func (s *PostgresStore) Enroll(ctx context.Context, e Enrollment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.t("enrollments")+` (course_id, student_id, enrolled_at)
		VALUES ($1, $2, $3)`, e.CourseID, e.StudentID, e.EnrolledAt.UTC())
	if _, ok := pgsql.UniqueViolation(err); ok {
		return opErr("coursework.Enroll", ErrConflict, "already enrolled")
	}
	if pgsql.IsForeignKeyViolation(err) {
		return opErr("coursework.Enroll", ErrNotFound, "course")
	}
	return err
}

func (s *PostgresStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM `+s.t("enrollments")+` WHERE course_id = $1 AND student_id = $2
		)`, courseID, studentID).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) IsCourseOwner(ctx context.Context, instructorID, courseID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM `+s.t("courses")+` WHERE id = $1 AND instructor_id = $2
		)`, courseID, instructorID).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) PendingSubmissions(ctx context.Context, instructorID, courseID string) ([]PendingItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, a.id, a.title, c.id, s.student_id, a.total_points, s.submitted_at
		  FROM `+s.t("submissions")+` s
		  JOIN `+s.t("assignments")+` a ON a.id = s.assignment_id
		  JOIN `+s.t("courses")+` c ON c.id = a.course_id
		 WHERE c.instructor_id = $1
		   AND ($2 = '' OR c.id = $2)
		   AND s.status = 'SUBMITTED'
		 ORDER BY s.submitted_at ASC NULLS FIRST, s.id ASC`, instructorID, courseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PendingItem, error) {
		var p PendingItem
		err := row.Scan(&p.SubmissionID, &p.AssignmentID, &p.AssignmentTitle, &p.CourseID, &p.StudentID, &p.TotalPoints, &p.SubmittedAt)
		return p, err
	})
}

func (s *PostgresStore) StudentSubmissions(ctx context.Context, instructorID, studentID string) ([]StudentSubmission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.assignment_id, s.student_id, s.status, s.grade, s.feedback, s.submitted_at, s.graded_at,
		       a.title, a.course_id, a.total_points
		  FROM `+s.t("submissions")+` s
		  JOIN `+s.t("assignments")+` a ON a.id = s.assignment_id
		  JOIN `+s.t("courses")+` c ON c.id = a.course_id
		 WHERE c.instructor_id = $1
		   AND s.student_id = $2
		 ORDER BY s.id ASC`, instructorID, studentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StudentSubmission, error) {
		var ss StudentSubmission
		var status string
		err := row.Scan(
			&ss.ID, &ss.AssignmentID, &ss.StudentID, &status, &ss.Grade, &ss.Feedback, &ss.SubmittedAt, &ss.GradedAt,
			&ss.AssignmentTitle, &ss.CourseID, &ss.TotalPoints,
		)
		ss.Status = Status(status)
		return ss, err
	})
}

func (s *PostgresStore) StudentCourses(ctx context.Context, instructorID, studentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.course_id
		  FROM `+s.t("enrollments")+` e
		  JOIN `+s.t("courses")+` c ON c.id = e.course_id
		 WHERE c.instructor_id = $1
		   AND e.student_id = $2
		 ORDER BY e.course_id`, instructorID, studentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) Roster(ctx context.Context, courseID string) ([]RosterEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT student_id, enrolled_at
		  FROM `+s.t("enrollments")+`
		 WHERE course_id = $1
		 ORDER BY enrolled_at ASC, student_id ASC`, courseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RosterEntry, error) {
		var r RosterEntry
		err := row.Scan(&r.StudentID, &r.EnrolledAt)
		return r, err
	})
}

func (s *PostgresStore) CreateCourse(ctx context.Context, c Course) (Course, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.t("courses")+` (id, title, instructor_id, created_at)
		VALUES ($1, $2, $3, $4)`, c.ID, c.Title, c.InstructorID, c.CreatedAt)
	if _, ok := pgsql.UniqueViolation(err); ok {
		return Course{}, opErr("coursework.CreateCourse", ErrConflict, "course id")
	}
	return c, err
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.t("assignments")+` (id, course_id, title, total_points, created_at)
		VALUES ($1, $2, $3, $4, $5)`, a.ID, a.CourseID, a.Title, a.TotalPoints, a.CreatedAt)
	switch {
	case pgsql.IsForeignKeyViolation(err):
		return Assignment{}, opErr("coursework.CreateAssignment", ErrNotFound, "course")
	case err != nil:
		if _, ok := pgsql.UniqueViolation(err); ok {
			return Assignment{}, opErr("coursework.CreateAssignment", ErrConflict, "assignment id")
		}
		return Assignment{}, err
	}
	return a, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if sub.Status == "" {
		sub.Status = StatusSubmitted
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.t("submissions")+`
		  (id, assignment_id, student_id, status, grade, feedback, submitted_at, graded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.AssignmentID, sub.StudentID, string(sub.Status), sub.Grade, sub.Feedback, sub.SubmittedAt, sub.GradedAt)
	switch {
	case pgsql.IsForeignKeyViolation(err):
		return Submission{}, opErr("coursework.CreateSubmission", ErrNotFound, "assignment")
	case err != nil:
		if _, ok := pgsql.UniqueViolation(err); ok {
			return Submission{}, opErr("coursework.CreateSubmission", ErrConflict, "submission id")
		}
		return Submission{}, err
	}
	return sub, nil
}
