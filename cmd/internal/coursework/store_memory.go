package coursework

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and dev mode.
type MemoryStore struct {
	mu          sync.RWMutex
	courses     map[string]Course
	assignments map[string]Assignment
	submissions map[string]Submission
	enrollments map[string]map[string]time.Time // courseID -> studentID -> enrolledAt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:     make(map[string]Course),
		assignments: make(map[string]Assignment),
		submissions: make(map[string]Submission),
		enrollments: make(map[string]map[string]time.Time),
	}
}

func (s *MemoryStore) FindCourse(ctx context.Context, courseID string) (Course, error) {
	if err := ctx.Err(); err != nil {
		return Course{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[strings.TrimSpace(courseID)]
	if !ok {
		return Course{}, opErr("coursework.FindCourse", ErrNotFound, "course")
	}
	return c, nil
}

func (s *MemoryStore) FindSubmission(ctx context.Context, submissionID string) (SubmissionRef, error) {
	if err := ctx.Err(); err != nil {
		return SubmissionRef{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[strings.TrimSpace(submissionID)]
	if !ok {
		return SubmissionRef{}, opErr("coursework.FindSubmission", ErrNotFound, "submission")
	}
	a := s.assignments[sub.AssignmentID]
	return SubmissionRef{Submission: sub, Assignment: a, Course: s.courses[a.CourseID]}, nil
}

func (s *MemoryStore) GradeSubmission(ctx context.Context, u GradeUpdate) (Submission, error) {
	out, err := s.GradeSubmissions(ctx, []GradeUpdate{u})
	if err != nil {
		return Submission{}, err
	}
	return out[0], nil
}

func (s *MemoryStore) GradeSubmissions(ctx context.Context, us []GradeUpdate) ([]Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "coursework.GradeSubmissions"
	for _, u := range us {
		sub, ok := s.submissions[u.SubmissionID]
		if !ok {
			return nil, opErr(op, ErrNotFound, u.SubmissionID)
		}
		if sub.Status != StatusSubmitted {
			return nil, opErr(op, ErrInvalidState, u.SubmissionID+" is "+string(sub.Status))
		}
	}

	out := make([]Submission, 0, len(us))
	for _, u := range us {
		sub := s.submissions[u.SubmissionID]
		grade := u.Grade
		at := u.GradedAt.UTC()
		sub.Status = StatusGraded
		sub.Grade = &grade
		sub.Feedback = u.Feedback
		sub.GradedAt = &at
		s.submissions[sub.ID] = sub
		out = append(out, sub)
	}
	return out, nil
}

func (s *MemoryStore) Enroll(ctx context.Context, e Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "coursework.Enroll"
	if _, ok := s.courses[e.CourseID]; !ok {
		return opErr(op, ErrNotFound, "course")
	}
	set := s.enrollments[e.CourseID]
	if set == nil {
		set = make(map[string]time.Time)
		s.enrollments[e.CourseID] = set
	}
	if _, dup := set[e.StudentID]; dup {
		return opErr(op, ErrConflict, "already enrolled")
	}
	set[e.StudentID] = e.EnrolledAt.UTC()
	return nil
}

func (s *MemoryStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.enrollments[courseID][studentID]
	return ok, nil
}

func (s *MemoryStore) IsCourseOwner(ctx context.Context, instructorID, courseID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[courseID]
	return ok && c.InstructorID == instructorID, nil
}

func (s *MemoryStore) PendingSubmissions(ctx context.Context, instructorID, courseID string) ([]PendingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PendingItem, 0)
	for _, sub := range s.submissions {
		if sub.Status != StatusSubmitted {
			continue
		}
		a := s.assignments[sub.AssignmentID]
		c := s.courses[a.CourseID]
		if c.InstructorID != instructorID || (courseID != "" && c.ID != courseID) {
			continue
		}
		out = append(out, PendingItem{
			SubmissionID:    sub.ID,
			AssignmentID:    a.ID,
			AssignmentTitle: a.Title,
			CourseID:        c.ID,
			StudentID:       sub.StudentID,
			TotalPoints:     a.TotalPoints,
			SubmittedAt:     sub.SubmittedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := timeOrZero(out[i].SubmittedAt), timeOrZero(out[j].SubmittedAt)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].SubmissionID < out[j].SubmissionID
	})
	return out, nil
}

func (s *MemoryStore) StudentSubmissions(ctx context.Context, instructorID, studentID string) ([]StudentSubmission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StudentSubmission, 0)
	for _, sub := range s.submissions {
		if sub.StudentID != studentID {
			continue
		}
		a := s.assignments[sub.AssignmentID]
		if s.courses[a.CourseID].InstructorID != instructorID {
			continue
		}
		out = append(out, StudentSubmission{
			Submission:      sub,
			AssignmentTitle: a.Title,
			CourseID:        a.CourseID,
			TotalPoints:     a.TotalPoints,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) StudentCourses(ctx context.Context, instructorID, studentID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for courseID, set := range s.enrollments {
		if _, ok := set[studentID]; ok && s.courses[courseID].InstructorID == instructorID {
			out = append(out, courseID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Roster(ctx context.Context, courseID string) ([]RosterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RosterEntry, 0, len(s.enrollments[courseID]))
	for id, at := range s.enrollments[courseID] {
		out = append(out, RosterEntry{StudentID: id, EnrolledAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (s *MemoryStore) CreateCourse(ctx context.Context, c Course) (Course, error) {
	if err := ctx.Err(); err != nil {
		return Course{}, err
	}
	const op = "coursework.CreateCourse"
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.InstructorID) == "" {
		return Course{}, opErr(op, ErrInvalidInput, "id and instructor are required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.courses[c.ID]; dup {
		return Course{}, opErr(op, ErrConflict, "course id")
	}
	s.courses[c.ID] = c
	return c, nil
}

func (s *MemoryStore) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	const op = "coursework.CreateAssignment"
	if strings.TrimSpace(a.ID) == "" || a.TotalPoints < 0 {
		return Assignment{}, opErr(op, ErrInvalidInput, "id and non-negative total points are required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[a.CourseID]; !ok {
		return Assignment{}, opErr(op, ErrNotFound, "course")
	}
	if _, dup := s.assignments[a.ID]; dup {
		return Assignment{}, opErr(op, ErrConflict, "assignment id")
	}
	s.assignments[a.ID] = a
	return a, nil
}

func (s *MemoryStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	const op = "coursework.CreateSubmission"
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.StudentID) == "" {
		return Submission{}, opErr(op, ErrInvalidInput, "id and student are required")
	}
	if sub.Status == "" {
		sub.Status = StatusSubmitted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[sub.AssignmentID]; !ok {
		return Submission{}, opErr(op, ErrNotFound, "assignment")
	}
	if _, dup := s.submissions[sub.ID]; dup {
		return Submission{}, opErr(op, ErrConflict, "submission id")
	}
	s.submissions[sub.ID] = sub
	return sub, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
