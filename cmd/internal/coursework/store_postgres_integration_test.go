package coursework

import (
	"context"
	"errors"
	"testing"
	"time"

	"lyceum/cmd/internal/pgsql/pgsqltest"
)

func seedPostgres(t *testing.T, ctx context.Context, st Store) {
	t.Helper()
	if _, err := st.CreateCourse(ctx, Course{ID: "c1", Title: "Algorithms", InstructorID: "i1"}); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if _, err := st.CreateAssignment(ctx, Assignment{ID: "a1", CourseID: "c1", Title: "Essay", TotalPoints: 100}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, s := range []string{"s1", "s2"} {
		if err := st.Enroll(ctx, Enrollment{CourseID: "c1", StudentID: s, EnrolledAt: base}); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		at := base.Add(time.Duration(i) * time.Second)
		if _, err := st.CreateSubmission(ctx, Submission{ID: "sub-" + s, AssignmentID: "a1", StudentID: s, SubmittedAt: &at}); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}
}

func TestPostgresStore_GradeCompareAndSet(t *testing.T) {
	t.Parallel()

	pool, schema := pgsqltest.Open(t)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	seedPostgres(t, ctx, st)

	ref, err := st.FindSubmission(ctx, "sub-s1")
	if err != nil || ref.Course.InstructorID != "i1" || ref.Assignment.TotalPoints != 100 || ref.Submission.Status != StatusSubmitted {
		t.Fatalf("FindSubmission: %+v %v", ref, err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	sub, err := st.GradeSubmission(ctx, GradeUpdate{SubmissionID: "sub-s1", Grade: 85, Feedback: "ok", GradedAt: now})
	if err != nil {
		t.Fatalf("GradeSubmission: %v", err)
	}
	if sub.Status != StatusGraded || sub.Grade == nil || *sub.Grade != 85 || sub.GradedAt == nil {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	if _, err := st.GradeSubmission(ctx, GradeUpdate{SubmissionID: "sub-s1", Grade: 1, GradedAt: now}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := st.GradeSubmission(ctx, GradeUpdate{SubmissionID: "missing", Grade: 1, GradedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pending, err := st.PendingSubmissions(ctx, "i1", "")
	if err != nil || len(pending) != 1 || pending[0].SubmissionID != "sub-s2" {
		t.Fatalf("PendingSubmissions: %+v %v", pending, err)
	}
}

func TestPostgresStore_BulkGradeIsAtomic(t *testing.T) {
	t.Parallel()

	pool, schema := pgsqltest.Open(t)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	seedPostgres(t, ctx, st)

	now := time.Now().UTC()
	_, err = st.GradeSubmissions(ctx, []GradeUpdate{
		{SubmissionID: "sub-s1", Grade: 10, GradedAt: now},
		{SubmissionID: "missing", Grade: 10, GradedAt: now},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ref, _ := st.FindSubmission(ctx, "sub-s1")
	if ref.Submission.Status != StatusSubmitted {
		t.Fatalf("partial bulk write: %+v", ref.Submission)
	}

	subs, err := st.GradeSubmissions(ctx, []GradeUpdate{
		{SubmissionID: "sub-s1", Grade: 10, GradedAt: now},
		{SubmissionID: "sub-s2", Grade: 20, GradedAt: now},
	})
	if err != nil || len(subs) != 2 || subs[1].StudentID != "s2" {
		t.Fatalf("GradeSubmissions: %+v %v", subs, err)
	}

	detail, err := st.StudentSubmissions(ctx, "i1", "s2")
	if err != nil || len(detail) != 1 || detail[0].TotalPoints != 100 || *detail[0].Grade != 20 {
		t.Fatalf("StudentSubmissions: %+v %v", detail, err)
	}
}

func TestPostgresStore_EnrollmentAndOwnership(t *testing.T) {
	t.Parallel()

	pool, schema := pgsqltest.Open(t)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	seedPostgres(t, ctx, st)

	if err := st.Enroll(ctx, Enrollment{CourseID: "c1", StudentID: "s1", EnrolledAt: time.Now()}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := st.Enroll(ctx, Enrollment{CourseID: "nope", StudentID: "s1", EnrolledAt: time.Now()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if ok, err := st.IsEnrolled(ctx, "s1", "c1"); err != nil || !ok {
		t.Fatalf("IsEnrolled: %v %v", ok, err)
	}
	if ok, _ := st.IsEnrolled(ctx, "s9", "c1"); ok {
		t.Fatalf("unexpected enrollment")
	}
	if ok, err := st.IsCourseOwner(ctx, "i1", "c1"); err != nil || !ok {
		t.Fatalf("IsCourseOwner: %v %v", ok, err)
	}
	if ok, _ := st.IsCourseOwner(ctx, "i2", "c1"); ok {
		t.Fatalf("unexpected owner")
	}

	roster, err := st.Roster(ctx, "c1")
	if err != nil || len(roster) != 2 {
		t.Fatalf("Roster: %+v %v", roster, err)
	}
	courses, err := st.StudentCourses(ctx, "i1", "s1")
	if err != nil || len(courses) != 1 || courses[0] != "c1" {
		t.Fatalf("StudentCourses: %+v %v", courses, err)
	}
	if _, err := st.FindCourse(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindCourse: %v", err)
	}
}
