package coursework

import "context"

// Store persists courses, assignments, submissions and enrollments. Lookups of unknown ids
// return an error wrapping ErrNotFound.
//
// Store also answers the room authorization questions asked by the realtime layer.
type Store interface {
	FindCourse(ctx context.Context, courseID string) (Course, error)
	FindSubmission(ctx context.Context, submissionID string) (SubmissionRef, error)

	// GradeSubmission applies u only if the submission is still SUBMITTED; otherwise it returns
	// ErrInvalidState (or ErrNotFound) and changes nothing.
	GradeSubmission(ctx context.Context, u GradeUpdate) (Submission, error)

	// GradeSubmissions applies every update in one transaction. If any update fails its
	// compare-and-set, nothing is written.
	GradeSubmissions(ctx context.Context, us []GradeUpdate) ([]Submission, error)

	// Enroll returns ErrConflict when the student is already enrolled.
	Enroll(ctx context.Context, e Enrollment) error

	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	IsCourseOwner(ctx context.Context, instructorID, courseID string) (bool, error)

	// PendingSubmissions lists SUBMITTED work in courses owned by instructorID, oldest
	// submission first. An empty courseID covers every owned course.
	PendingSubmissions(ctx context.Context, instructorID, courseID string) ([]PendingItem, error)

	// StudentSubmissions lists the student's submissions in courses owned by instructorID.
	StudentSubmissions(ctx context.Context, instructorID, studentID string) ([]StudentSubmission, error)

	// StudentCourses lists the instructor's courses the student is enrolled in.
	StudentCourses(ctx context.Context, instructorID, studentID string) ([]string, error)

	Roster(ctx context.Context, courseID string) ([]RosterEntry, error)

	CreateCourse(ctx context.Context, c Course) (Course, error)
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
}
