package coursework

import (
	"context"
	"strings"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/cache"
)

// PendingGrading lists submissions awaiting the instructor's grade, optionally for one course.
// Results are cached per instructor and invalidated by every grading or enrollment write.
func (s *Service) PendingGrading(ctx context.Context, instructorID, courseID string) ([]PendingItem, error) {
	courseID = strings.TrimSpace(courseID)
	key := cache.ViewKey(instructorID, cache.KindPendingGrading, map[string]string{"courseId": courseID})

	return cache.Load(ctx, s.cache, cache.KindPendingGrading, key, func(ctx context.Context) ([]PendingItem, error) {
		return s.store.PendingSubmissions(ctx, instructorID, courseID)
	})
}

// StudentDetail is the instructor's view of one student. Students with no enrollment or
// submission in the instructor's courses are ErrNotFound.
func (s *Service) StudentDetail(ctx context.Context, instructorID, studentID string) (StudentDetail, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return StudentDetail{}, opErr("coursework.StudentDetail", ErrInvalidInput, "missing student id")
	}
	key := cache.ViewKey(instructorID, cache.KindStudentDetail, map[string]string{"studentId": studentID})

	return cache.Load(ctx, s.cache, cache.KindStudentDetail, key, func(ctx context.Context) (StudentDetail, error) {
		return s.loadStudentDetail(ctx, instructorID, studentID)
	})
}

func (s *Service) loadStudentDetail(ctx context.Context, instructorID, studentID string) (StudentDetail, error) {
	const op = "coursework.StudentDetail"

	u, err := s.users.FindUser(ctx, studentID)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		return StudentDetail{}, opErr(op, ErrNotFound, "student")
	}
	if err != nil {
		return StudentDetail{}, err
	}

	courses, err := s.store.StudentCourses(ctx, instructorID, studentID)
	if err != nil {
		return StudentDetail{}, err
	}
	subs, err := s.store.StudentSubmissions(ctx, instructorID, studentID)
	if err != nil {
		return StudentDetail{}, err
	}
	if len(courses) == 0 && len(subs) == 0 {
		return StudentDetail{}, opErr(op, ErrNotFound, "student is not in any of your courses")
	}

	d := StudentDetail{
		StudentID:   u.ID,
		Name:        u.Name,
		Email:       u.Email,
		CourseIDs:   courses,
		Submissions: subs,
	}

	var earned, possible float64
	for _, sub := range subs {
		if sub.Status == StatusGraded && sub.Grade != nil && sub.TotalPoints > 0 {
			earned += *sub.Grade
			possible += sub.TotalPoints
		}
	}
	if possible > 0 {
		avg := earned / possible * 100
		d.Average = &avg
	}
	return d, nil
}

// CourseRoster lists the students enrolled in a course owned by instructorID.
func (s *Service) CourseRoster(ctx context.Context, instructorID, courseID string) ([]RosterEntry, error) {
	courseID = strings.TrimSpace(courseID)
	if _, err := s.ownedCourse(ctx, instructorID, courseID); err != nil {
		return nil, err
	}
	key := cache.ViewKey(instructorID, cache.KindCourseRoster, map[string]string{"courseId": courseID})

	return cache.Load(ctx, s.cache, cache.KindCourseRoster, key, func(ctx context.Context) ([]RosterEntry, error) {
		return s.store.Roster(ctx, courseID)
	})
}
