package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// BusinessEventName names an application event pushed through the notification dispatcher.
type BusinessEventName string

// Business events (wire-stable, closed set).
const (
	EventAssignmentGraded   BusinessEventName = "ASSIGNMENT_GRADED"
	EventEnrollmentCreated  BusinessEventName = "ENROLLMENT_CREATED"
	EventAnnounce           BusinessEventName = "ANNOUNCE"
	EventLiveSessionStarted BusinessEventName = "LIVE_SESSION_STARTED"
	EventSystemNotice       BusinessEventName = "SYSTEM_NOTICE"
)

// IsBusinessEvent reports whether name belongs to the closed business event set.
func IsBusinessEvent(name string) bool {
	switch BusinessEventName(name) {
	case EventAssignmentGraded, EventEnrollmentCreated, EventAnnounce, EventLiveSessionStarted, EventSystemNotice:
		return true
	}
	return false
}

// BusinessEvent is a typed business payload. Each variant has a fixed, validated shape.
type BusinessEvent interface {
	EventName() BusinessEventName
	Validate() error
}

// AssignmentGraded is emitted to a student when an instructor grades a submission.
type AssignmentGraded struct {
	SubmissionID    string    `json:"submissionId"`
	AssignmentID    string    `json:"assignmentId"`
	AssignmentTitle string    `json:"assignmentTitle"`
	CourseID        string    `json:"courseId"`
	Grade           float64   `json:"grade"`
	TotalPoints     float64   `json:"totalPoints"`
	Feedback        string    `json:"feedback,omitempty"`
	GradedAt        time.Time `json:"gradedAt"`
}

// EnrollmentCreated is emitted to a student enrolled into a course.
type EnrollmentCreated struct {
	CourseID    string    `json:"courseId"`
	CourseTitle string    `json:"courseTitle"`
	EnrolledAt  time.Time `json:"enrolledAt"`
}

// Announcement is a course-wide announcement.
type Announcement struct {
	CourseID string `json:"courseId"`
	AuthorID string `json:"authorId"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// LiveSessionStarted tells course members a live session has begun.
type LiveSessionStarted struct {
	CourseID  string    `json:"courseId"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"startsAt"`
}

// SystemNotice is a platform-wide notice.
type SystemNotice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (AssignmentGraded) EventName() BusinessEventName { return EventAssignmentGraded }
func (EnrollmentCreated) EventName() BusinessEventName { return EventEnrollmentCreated }
func (Announcement) EventName() BusinessEventName { return EventAnnounce }
func (LiveSessionStarted) EventName() BusinessEventName { return EventLiveSessionStarted }
func (SystemNotice) EventName() BusinessEventName { return EventSystemNotice }

func (e AssignmentGraded) Validate() error {
	if strings.TrimSpace(e.SubmissionID) == "" || strings.TrimSpace(e.AssignmentID) == "" {
		return errors.New("assignment graded: missing ids")
	}
	if math.IsNaN(e.Grade) || e.Grade < 0 || e.Grade > e.TotalPoints {
		return fmt.Errorf("assignment graded: grade %v outside [0, %v]", e.Grade, e.TotalPoints)
	}
	return nil
}

func (e EnrollmentCreated) Validate() error {
	if strings.TrimSpace(e.CourseID) == "" {
		return errors.New("enrollment created: missing courseId")
	}
	return nil
}

func (e Announcement) Validate() error {
	if strings.TrimSpace(e.CourseID) == "" {
		return errors.New("announcement: missing courseId")
	}
	if strings.TrimSpace(e.Title) == "" && strings.TrimSpace(e.Message) == "" {
		return errors.New("announcement: empty")
	}
	return nil
}

func (e LiveSessionStarted) Validate() error {
	if strings.TrimSpace(e.CourseID) == "" || strings.TrimSpace(e.SessionID) == "" {
		return errors.New("live session started: missing ids")
	}
	return nil
}

func (e SystemNotice) Validate() error {
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("system notice: missing message")
	}
	return nil
}

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes a priority string. Empty input maps to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority: %q", s)
	}
}

// NotificationPayload is the wire shape of a business event.
// ID is set only for persisted (per-user) notifications.
type NotificationPayload struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Priority  Priority        `json:"priority"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotificationEvent is a business event on the wire. Its envelope type is the event name.
type NotificationEvent struct {
	Name         BusinessEventName
	Notification NotificationPayload
}

func (e NotificationEvent) EventType() string { return string(e.Name) }
