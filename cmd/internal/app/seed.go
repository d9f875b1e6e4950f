package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/coursework"
)

// Dev seed identifiers. Stable so the smoke tool and local clients can address them.
const (
	seedInstructorID = "dev-instructor"
	seedCourseID     = "dev-course-1"
	seedAssignmentID = "dev-assignment-1"
)

var seedStudentIDs = []string{"dev-student-1", "dev-student-2"}

// seedDev fills the in-memory stores with one instructor, two enrolled students, a course,
// an assignment and one submitted (ungraded) submission per student, then logs an access
// token for every seeded user. Rows that already exist are kept, so seeding twice is harmless.
func seedDev(ctx context.Context, users identity.Store, work coursework.Store, tokens auth.TokenManager, log Logger) error {
	now := time.Now().UTC()

	type seedUser struct {
		id, name string
		role     identity.Role
	}
	all := []seedUser{{seedInstructorID, "Dev Instructor", identity.RoleInstructor}}
	for i, id := range seedStudentIDs {
		all = append(all, seedUser{id, fmt.Sprintf("Dev Student %d", i+1), identity.RoleStudent})
	}
	for _, u := range all {
		if _, err := users.CreateUser(ctx, identity.CreateUserInput{
			ID:     u.id,
			Name:   u.name,
			Email:  u.id + "@lyceum.local",
			Role:   u.role,
			Active: true,
			Now:    now,
		}); err != nil && !identity.IsConflict(err) {
			return fmt.Errorf("seed user %s: %w", u.id, err)
		}
	}

	if _, err := work.CreateCourse(ctx, coursework.Course{
		ID: seedCourseID, Title: "Introduction to Algorithms", InstructorID: seedInstructorID, CreatedAt: now,
	}); seedFailed(err) {
		return fmt.Errorf("seed course: %w", err)
	}
	if _, err := work.CreateAssignment(ctx, coursework.Assignment{
		ID: seedAssignmentID, CourseID: seedCourseID, Title: "Sorting essay", TotalPoints: 100, CreatedAt: now,
	}); seedFailed(err) {
		return fmt.Errorf("seed assignment: %w", err)
	}
	for _, sid := range seedStudentIDs {
		if err := work.Enroll(ctx, coursework.Enrollment{CourseID: seedCourseID, StudentID: sid, EnrolledAt: now}); seedFailed(err) {
			return fmt.Errorf("seed enrollment %s: %w", sid, err)
		}
		submitted := now
		if _, err := work.CreateSubmission(ctx, coursework.Submission{
			ID:           "sub-" + sid,
			AssignmentID: seedAssignmentID,
			StudentID:    sid,
			Status:       coursework.StatusSubmitted,
			SubmittedAt:  &submitted,
		}); seedFailed(err) {
			return fmt.Errorf("seed submission %s: %w", sid, err)
		}
	}

	for _, u := range all {
		tok, exp, err := tokens.Issue(u.id, now)
		if err != nil {
			return fmt.Errorf("seed token %s: %w", u.id, err)
		}
		log.Info("dev.seed.token", "user_id", u.id, "role", string(u.role), "expires_at", exp, "token", tok)
	}
	log.Info("dev.seed.done", "users", len(all), "course_id", seedCourseID)
	return nil
}

func seedFailed(err error) bool {
	return err != nil && !errors.Is(err, coursework.ErrConflict)
}
