package coursework

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/cache"
	"lyceum/cmd/internal/devices"
	"lyceum/cmd/internal/notify"
	"lyceum/cmd/internal/realtime"
	v1 "lyceum/shared/contracts/realtime/v1"
)

type fixture struct {
	svc    *Service
	store  *MemoryStore
	users  *identity.MemoryStore
	notes  notify.Store
	reg    *realtime.Registry
	disp   *realtime.Dispatcher
	cache  *cache.MemoryStore
	audit  *audit.Recorder
	submit time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture seeds instructor i1 owning course c1 (assignment a1, 100 points) with students
// s1..s3 enrolled and one SUBMITTED submission each (sub-s1..sub-s3). Instructor i2 owns c2.
func newFixture(t *testing.T, notes notify.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	log := discardLogger()
	if notes == nil {
		notes = notify.NewMemoryStore()
	}

	f := &fixture{
		store:  NewMemoryStore(),
		users:  identity.NewMemoryStore(),
		notes:  notes,
		reg:    realtime.NewRegistry(),
		cache:  cache.NewMemoryStore(),
		audit:  &audit.Recorder{},
		submit: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.disp = realtime.NewDispatcher(f.reg, notes, log)

	mustUser := func(id string, role identity.Role, active bool) {
		if _, err := f.users.CreateUser(ctx, identity.CreateUserInput{
			ID: id, Name: "User " + id, Email: id + "@lyceum.test", Role: role, Active: active,
		}); err != nil {
			t.Fatalf("CreateUser %s: %v", id, err)
		}
	}
	mustUser("i1", identity.RoleInstructor, true)
	mustUser("i2", identity.RoleInstructor, true)
	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		mustUser(s, identity.RoleStudent, true)
	}
	mustUser("s-off", identity.RoleStudent, false)

	if _, err := f.store.CreateCourse(ctx, Course{ID: "c1", Title: "Algorithms", InstructorID: "i1"}); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if _, err := f.store.CreateCourse(ctx, Course{ID: "c2", Title: "Databases", InstructorID: "i2"}); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if _, err := f.store.CreateAssignment(ctx, Assignment{ID: "a1", CourseID: "c1", Title: "Essay", TotalPoints: 100}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	for i, s := range []string{"s1", "s2", "s3"} {
		if err := f.store.Enroll(ctx, Enrollment{CourseID: "c1", StudentID: s, EnrolledAt: f.submit}); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		at := f.submit.Add(time.Duration(i) * time.Minute)
		if _, err := f.store.CreateSubmission(ctx, Submission{
			ID: "sub-" + s, AssignmentID: "a1", StudentID: s, Status: StatusSubmitted, SubmittedAt: &at,
		}); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	svc, err := NewService(Deps{
		Store:    f.store,
		Users:    f.users,
		Notifier: f.disp,
		Cache:    cache.NewCoordinator(f.cache, time.Minute, log),
		Audit:    f.audit,
		Log:      log,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

// connect registers an active connection for userID, the way the gateway does.
func (f *fixture) connect(t *testing.T, connID, userID string, role identity.Role) *realtime.Client {
	t.Helper()
	c := realtime.NewClient(connID, devices.Info{Class: devices.ClassDesktop}, time.Now(), 64)
	if err := c.Bind(auth.Identity{UserID: userID, Name: userID, Role: role}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	f.reg.Register(c)
	for _, st := range []realtime.State{realtime.StateRegistered, realtime.StateActive} {
		if err := c.Advance(st); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	return c
}

func next(t *testing.T, c *realtime.Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(time.Second):
		t.Fatalf("nothing queued for %s", c.ID)
		return v1.Envelope{}
	}
}

func none(t *testing.T, c *realtime.Client) {
	t.Helper()
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected %s for %s", env.Type, c.ID)
	default:
	}
}

func TestGrade_OfflineStudentReceivesPendingOnConnect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.GradeAssignment(ctx, "i1", GradeInput{SubmissionID: "sub-s1", Grade: 85, Feedback: " solid work "})
	if err != nil {
		t.Fatalf("GradeAssignment: %v", err)
	}
	if res.Status != StatusGraded || res.Grade != 85 || res.Feedback != "solid work" || res.GradedAt.IsZero() || res.NotificationID == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	c := f.connect(t, "conn-1", "s1", identity.RoleStudent)
	if n, err := f.disp.DrainPendingFor(ctx, c); err != nil || n != 1 {
		t.Fatalf("DrainPendingFor: n=%d err=%v", n, err)
	}

	env := next(t, c)
	var batch v1.PendingNotifications
	if err := json.Unmarshal(env.Payload, &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.Count != 1 || batch.Notifications[0].Type != string(v1.EventAssignmentGraded) {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	var data v1.AssignmentGraded
	if err := json.Unmarshal(batch.Notifications[0].Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Grade != 85 || data.TotalPoints != 100 || data.SubmissionID != "sub-s1" {
		t.Fatalf("unexpected data: %+v", data)
	}

	// Unread until acknowledged: the next connection sees it again.
	c2 := f.connect(t, "conn-2", "s1", identity.RoleStudent)
	if n, _ := f.disp.DrainPendingFor(ctx, c2); n != 1 {
		t.Fatalf("second drain delivered %d", n)
	}
}

func TestGrade_OnlineStudentGetsLivePush(t *testing.T) {
	f := newFixture(t, nil)
	phone := f.connect(t, "p", "s2", identity.RoleStudent)
	laptop := f.connect(t, "l", "s2", identity.RoleStudent)
	other := f.connect(t, "o", "s3", identity.RoleStudent)

	if _, err := f.svc.GradeAssignment(context.Background(), "i1", GradeInput{SubmissionID: "sub-s2", Grade: 40}); err != nil {
		t.Fatalf("GradeAssignment: %v", err)
	}
	for _, c := range []*realtime.Client{phone, laptop} {
		if env := next(t, c); env.Type != string(v1.EventAssignmentGraded) {
			t.Fatalf("unexpected %s", env.Type)
		}
	}
	none(t, other)
}

func TestGrade_Preconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.connect(t, "c", "s1", identity.RoleStudent)

	if _, err := f.svc.GradeAssignment(ctx, "i1", GradeInput{SubmissionID: "sub-s3", Grade: 70}); err != nil {
		t.Fatalf("setup grade: %v", err)
	}

	cases := []struct {
		name       string
		instructor string
		in         GradeInput
		want       error
	}{
		{"missing id", "i1", GradeInput{Grade: 1}, ErrInvalidInput},
		{"unknown submission", "i1", GradeInput{SubmissionID: "nope", Grade: 1}, ErrNotFound},
		{"other instructor", "i2", GradeInput{SubmissionID: "sub-s1", Grade: 1}, ErrForbidden},
		{"already graded", "i1", GradeInput{SubmissionID: "sub-s3", Grade: 1}, ErrInvalidState},
		{"negative", "i1", GradeInput{SubmissionID: "sub-s1", Grade: -1}, ErrOutOfRange},
		{"above total", "i1", GradeInput{SubmissionID: "sub-s1", Grade: 101}, ErrOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.GradeAssignment(ctx, tc.instructor, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	ref, err := f.store.FindSubmission(ctx, "sub-s1")
	if err != nil || ref.Submission.Status != StatusSubmitted || ref.Submission.Grade != nil {
		t.Fatalf("rejected grades changed the submission: %+v %v", ref.Submission, err)
	}
	none(t, student)
	if unread, _ := f.notes.ListUnread(ctx, "s1", time.Now().UTC(), 0); len(unread) != 0 {
		t.Fatalf("rejected grades created %d notifications", len(unread))
	}

	var denied, rejected int
	for _, op := range f.audit.BusinessOperations() {
		switch op.Outcome {
		case "denied":
			denied++
		case "rejected":
			rejected++
		}
	}
	if denied != 1 || rejected != 5 {
		t.Fatalf("audit outcomes denied=%d rejected=%d", denied, rejected)
	}
}

func TestGrade_InvalidatesPendingView(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	before, err := f.svc.PendingGrading(ctx, "i1", "")
	if err != nil || len(before) != 3 || before[0].SubmissionID != "sub-s1" {
		t.Fatalf("PendingGrading: %+v %v", before, err)
	}
	if _, err := f.svc.StudentDetail(ctx, "i1", "s1"); err != nil {
		t.Fatalf("StudentDetail: %v", err)
	}
	if len(f.cache.Keys()) != 2 {
		t.Fatalf("expected 2 cached views, got %v", f.cache.Keys())
	}

	if _, err := f.svc.GradeAssignment(ctx, "i1", GradeInput{SubmissionID: "sub-s1", Grade: 90}); err != nil {
		t.Fatalf("GradeAssignment: %v", err)
	}
	if len(f.cache.Keys()) != 0 {
		t.Fatalf("views survived the write: %v", f.cache.Keys())
	}

	after, err := f.svc.PendingGrading(ctx, "i1", "c1")
	if err != nil {
		t.Fatalf("PendingGrading: %v", err)
	}
	for _, p := range after {
		if p.SubmissionID == "sub-s1" {
			t.Fatalf("graded submission still pending")
		}
	}
	d, err := f.svc.StudentDetail(ctx, "i1", "s1")
	if err != nil || d.Average == nil || *d.Average != 90 || len(d.CourseIDs) != 1 {
		t.Fatalf("StudentDetail after grade: %+v %v", d, err)
	}

	if _, err := f.svc.StudentDetail(ctx, "i2", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign student detail: %v", err)
	}
}

func TestGrade_NotificationFailureKeepsGrade(t *testing.T) {
	f := newFixture(t, failingNotes{Store: notify.NewMemoryStore()})
	ctx := context.Background()

	res, err := f.svc.GradeAssignment(ctx, "i1", GradeInput{SubmissionID: "sub-s1", Grade: 50})
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if res.Status != StatusGraded || res.NotificationID != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	ref, _ := f.store.FindSubmission(ctx, "sub-s1")
	if ref.Submission.Status != StatusGraded {
		t.Fatalf("grade rolled back")
	}
}

func TestBulkGrade_RejectsWholeBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.BulkGradeAssignments(ctx, "i1", []GradeInput{
		{SubmissionID: "sub-s1", Grade: 80},
		{SubmissionID: "sub-s2", Grade: 120},
		{SubmissionID: "sub-s3", Grade: 60},
	})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	var ie *ItemError
	if !errors.As(err, &ie) || ie.Index != 1 || ie.SubmissionID != "sub-s2" {
		t.Fatalf("expected item 1 error, got %v", err)
	}
	for _, id := range []string{"sub-s1", "sub-s2", "sub-s3"} {
		ref, _ := f.store.FindSubmission(ctx, id)
		if ref.Submission.Status != StatusSubmitted {
			t.Fatalf("%s changed to %s", id, ref.Submission.Status)
		}
	}

	if _, err := f.svc.BulkGradeAssignments(ctx, "i1", []GradeInput{
		{SubmissionID: "sub-s1", Grade: 1},
		{SubmissionID: "sub-s1", Grade: 2},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate ids: %v", err)
	}
	if _, err := f.svc.BulkGradeAssignments(ctx, "i1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty batch: %v", err)
	}
	if _, err := f.svc.BulkGradeAssignments(ctx, "i2", []GradeInput{{SubmissionID: "sub-s1", Grade: 1}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign batch: %v", err)
	}
}

func TestBulkGrade_IsolatesNotificationFailures(t *testing.T) {
	f := newFixture(t, failingNotes{Store: notify.NewMemoryStore(), failFor: "s2"})
	ctx := context.Background()

	res, err := f.svc.BulkGradeAssignments(ctx, "i1", []GradeInput{
		{SubmissionID: "sub-s1", Grade: 80},
		{SubmissionID: "sub-s2", Grade: 70},
		{SubmissionID: "sub-s3", Grade: 60},
	})
	if err != nil {
		t.Fatalf("BulkGradeAssignments: %v", err)
	}
	if len(res.Graded) != 3 || res.NotificationFailures != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, g := range res.Graded {
		if (g.NotificationID == 0) != (g.StudentID == "s2") {
			t.Fatalf("unexpected notification id for %s: %d", g.StudentID, g.NotificationID)
		}
	}
	if pending, _ := f.svc.PendingGrading(ctx, "i1", ""); len(pending) != 0 {
		t.Fatalf("pending after bulk grade: %d", len(pending))
	}
}

func TestEnrollStudent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s4 := f.connect(t, "c4", "s4", identity.RoleStudent)

	roster, err := f.svc.CourseRoster(ctx, "i1", "c1")
	if err != nil || len(roster) != 3 {
		t.Fatalf("CourseRoster: %d %v", len(roster), err)
	}

	e, err := f.svc.EnrollStudent(ctx, "i1", "c1", "s4")
	if err != nil || e.StudentID != "s4" {
		t.Fatalf("EnrollStudent: %+v %v", e, err)
	}
	if env := next(t, s4); env.Type != string(v1.EventEnrollmentCreated) {
		t.Fatalf("unexpected %s", env.Type)
	}
	if ok, _ := f.store.IsEnrolled(ctx, "s4", "c1"); !ok {
		t.Fatalf("not enrolled")
	}
	if roster, _ := f.svc.CourseRoster(ctx, "i1", "c1"); len(roster) != 4 {
		t.Fatalf("stale roster: %d", len(roster))
	}

	cases := []struct {
		name                       string
		instructor, course, target string
		want                       error
	}{
		{"duplicate", "i1", "c1", "s4", ErrConflict},
		{"not owner", "i2", "c1", "s4", ErrForbidden},
		{"unknown course", "i1", "nope", "s4", ErrNotFound},
		{"unknown student", "i1", "c1", "ghost", ErrNotFound},
		{"inactive student", "i1", "c1", "s-off", ErrInvalidInput},
		{"instructor target", "i1", "c1", "i2", ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.EnrollStudent(ctx, tc.instructor, tc.course, tc.target); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAnnounce_ReachesCourseRoomOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rooms := realtime.NewRooms(f.reg, f.store, nil, discardLogger())
	var members []*realtime.Client
	for _, s := range []string{"s1", "s2", "s3"} {
		c := f.connect(t, "conn-"+s, s, identity.RoleStudent)
		if _, err := rooms.Join(ctx, c.ID, "course", "c1"); err != nil {
			t.Fatalf("Join %s: %v", s, err)
		}
		members = append(members, c)
	}
	outsider := f.connect(t, "conn-s4", "s4", identity.RoleStudent)
	if _, err := rooms.Join(ctx, outsider.ID, "course", "c1"); !errors.Is(err, realtime.ErrForbidden) {
		t.Fatalf("outsider join: %v", err)
	}

	n, err := f.svc.Announce(ctx, "i1", "c1", "Quiz", "Friday 10:00")
	if err != nil || n != 3 {
		t.Fatalf("Announce: n=%d err=%v", n, err)
	}
	for _, c := range members {
		if env := next(t, c); env.Type != string(v1.EventAnnounce) || env.Room != "course:c1" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
	none(t, outsider)

	if _, err := f.svc.Announce(ctx, "i2", "c1", "x", "y"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign announce: %v", err)
	}
	if _, err := f.svc.Announce(ctx, "i1", "c1", " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty announce: %v", err)
	}
}

type failingNotes struct {
	notify.Store
	failFor string
}

func (s failingNotes) Create(ctx context.Context, in notify.CreateInput) (notify.Notification, error) {
	if s.failFor == "" || in.UserID == s.failFor {
		return notify.Notification{}, errors.New("notifications table unavailable")
	}
	return s.Store.Create(ctx, in)
}
