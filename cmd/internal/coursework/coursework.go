// Package coursework is the grading and enrollment write path.
//
// Every write commits first, then invalidates the owning instructor's cached views, then
// notifies the affected student. Notification persistence is guaranteed (its failure is
// reported as ErrNotificationFailed after the write has committed); cache invalidation and
// live delivery are best-effort.
package coursework

import (
	"math"
	"strings"
	"time"
)

// Status is the grading state of a submission.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusGraded    Status = "GRADED"
)

type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	InstructorID string    `json:"instructorId"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Assignment struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"courseId"`
	Title       string    `json:"title"`
	TotalPoints float64   `json:"totalPoints"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Submission struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignmentId"`
	StudentID    string     `json:"studentId"`
	Status       Status     `json:"status"`
	Grade        *float64   `json:"grade,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
	GradedAt     *time.Time `json:"gradedAt,omitempty"`
}

type Enrollment struct {
	CourseID   string    `json:"courseId"`
	StudentID  string    `json:"studentId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// SubmissionRef is a submission together with the assignment and course it belongs to.
type SubmissionRef struct {
	Submission Submission
	Assignment Assignment
	Course     Course
}

// GradeInput is one grading request.
type GradeInput struct {
	SubmissionID string
	Grade        float64
	Feedback     string
}

func (in GradeInput) normalize() (GradeInput, error) {
	in.SubmissionID = strings.TrimSpace(in.SubmissionID)
	in.Feedback = strings.TrimSpace(in.Feedback)
	if in.SubmissionID == "" {
		return in, opErr("coursework.Grade", ErrInvalidInput, "missing submission id")
	}
	if math.IsNaN(in.Grade) || math.IsInf(in.Grade, 0) {
		return in, opErr("coursework.Grade", ErrOutOfRange, "grade is not a finite number")
	}
	if len(in.Feedback) > maxFeedbackLen {
		return in, opErr("coursework.Grade", ErrInvalidInput, "feedback too long")
	}
	return in, nil
}

// GradeUpdate is a compare-and-set write: it applies only while the submission is SUBMITTED.
type GradeUpdate struct {
	SubmissionID string
	Grade        float64
	Feedback     string
	GradedAt     time.Time
}

// PendingItem is one row of the pending-grading view.
type PendingItem struct {
	SubmissionID    string     `json:"submissionId"`
	AssignmentID    string     `json:"assignmentId"`
	AssignmentTitle string     `json:"assignmentTitle"`
	CourseID        string     `json:"courseId"`
	StudentID       string     `json:"studentId"`
	TotalPoints     float64    `json:"totalPoints"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
}

// StudentSubmission is one row of the student-detail view.
type StudentSubmission struct {
	Submission
	AssignmentTitle string  `json:"assignmentTitle"`
	CourseID        string  `json:"courseId"`
	TotalPoints     float64 `json:"totalPoints"`
}

// StudentDetail is an instructor's view of one student across the instructor's courses.
type StudentDetail struct {
	StudentID   string              `json:"studentId"`
	Name        string              `json:"name"`
	Email       string              `json:"email"`
	CourseIDs   []string            `json:"courseIds"`
	Submissions []StudentSubmission `json:"submissions"`
	Average     *float64            `json:"averagePercent,omitempty"`
}

// RosterEntry is one enrolled student of a course.
type RosterEntry struct {
	StudentID  string    `json:"studentId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

const (
	maxFeedbackLen = 10_000
	maxBulkItems   = 500
)
