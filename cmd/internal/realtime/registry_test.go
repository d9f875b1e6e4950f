package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/devices"
)

// assertSymmetric checks conn ∈ members(room) ⟺ room ∈ joined(conn).
func assertSymmetric(t *testing.T, reg *Registry) {
	t.Helper()
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for k, e := range reg.rooms {
		if len(e.members) == 0 {
			t.Fatalf("room %s kept with zero members", k)
		}
		for id := range e.members {
			if _, ok := reg.joined[id][k]; !ok {
				t.Fatalf("conn %s in room %s but room not in its joined set", id, k)
			}
		}
	}
	for id, set := range reg.joined {
		for k := range set {
			e := reg.rooms[k]
			if e == nil {
				t.Fatalf("conn %s lists missing room %s", id, k)
			}
			if _, ok := e.members[id]; !ok {
				t.Fatalf("conn %s lists room %s but is not a member", id, k)
			}
		}
	}
}

func TestRegistry_RegisterJoinsDefaultRoomsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	c := newBoundClient(t, "c1", "u1", identity.RoleStudent, 8)

	if n := reg.Register(c); n != 1 {
		t.Fatalf("device count=%d want 1", n)
	}
	if n := reg.Register(c); n != 1 {
		t.Fatalf("re-register changed device count: %d", n)
	}

	rooms := reg.RoomsOf("c1")
	if len(rooms) != 2 || rooms[0] != RoleRoom(identity.RoleStudent) || rooms[1] != UserRoom("u1") {
		t.Fatalf("unexpected default rooms: %v", rooms)
	}
	if reg.MemberCount(UserRoom("u1")) != 1 {
		t.Fatalf("personal room member count wrong")
	}
	assertSymmetric(t, reg)
}

func TestRegistry_UnregisterLeavesNoEmptyState(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := registerClient(t, reg, "c1", "u1", identity.RoleStudent)
	b := registerClient(t, reg, "c2", "u1", identity.RoleStudent)
	other := registerClient(t, reg, "c3", "u2", identity.RoleStudent)

	course := CourseRoom("x")
	for _, c := range []*Client{a, b, other} {
		if _, ok := reg.Join(c.ID, course); !ok {
			t.Fatalf("Join %s failed", c.ID)
		}
	}
	if reg.DeviceCount("u1") != 2 || reg.TotalOnlineUsers() != 2 || reg.TotalConnections() != 3 {
		t.Fatalf("unexpected counts: devices=%d users=%d conns=%d",
			reg.DeviceCount("u1"), reg.TotalOnlineUsers(), reg.TotalConnections())
	}

	res, ok := reg.Unregister("c1")
	if !ok || res.UserID != "u1" || res.RemainingDevices != 1 || len(res.RoomsLeft) != 3 {
		t.Fatalf("unexpected unregister result: %+v ok=%v", res, ok)
	}
	assertSymmetric(t, reg)

	if _, ok := reg.Unregister("c1"); ok {
		t.Fatalf("second unregister should report not found")
	}

	reg.Unregister("c2")
	if reg.IsOnline("u1") {
		t.Fatalf("u1 still online")
	}
	reg.mu.RLock()
	_, userLeft := reg.users["u1"]
	_, roomLeft := reg.rooms[UserRoom("u1")]
	reg.mu.RUnlock()
	if userLeft || roomLeft {
		t.Fatalf("leaked state: user=%v room=%v", userLeft, roomLeft)
	}
	if reg.MemberCount(course) != 1 {
		t.Fatalf("course room count=%d want 1", reg.MemberCount(course))
	}

	reg.Unregister("c3")
	if len(reg.Rooms()) != 0 || reg.HasRoom(course) {
		t.Fatalf("rooms left after everyone disconnected: %v", reg.Rooms())
	}
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	registerClient(t, reg, "c1", "u1", identity.RoleStudent)

	k := RoomKey{Type: RoomDiscussion, ID: "d1"}
	if n, ok := reg.Join("c1", k); !ok || n != 1 {
		t.Fatalf("Join = %d, %v", n, ok)
	}
	if n, was := reg.Leave("c1", k); !was || n != 0 {
		t.Fatalf("Leave = %d, %v", n, was)
	}
	if _, was := reg.Leave("c1", k); was {
		t.Fatalf("second leave reported membership")
	}
	if _, ok := reg.Join("missing", k); ok {
		t.Fatalf("join for unknown connection succeeded")
	}
	assertSymmetric(t, reg)
}

func TestRegistry_ConcurrentLifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	const users, devicesPerUser = 8, 6

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for d := 0; d < devicesPerUser; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				userID := fmt.Sprintf("u%d", u)
				connID := fmt.Sprintf("c%d-%d", u, d)
				c := newBoundClient(t, connID, userID, identity.RoleStudent, 4)
				reg.Register(c)
				reg.Join(connID, CourseRoom("shared"))
				if d%2 == 0 {
					reg.Unregister(connID)
				}
			}()
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		if got := reg.DeviceCount(fmt.Sprintf("u%d", u)); got != devicesPerUser/2 {
			t.Fatalf("u%d devices=%d want %d", u, got, devicesPerUser/2)
		}
	}
	if reg.MemberCount(CourseRoom("shared")) != users*devicesPerUser/2 {
		t.Fatalf("shared room count=%d", reg.MemberCount(CourseRoom("shared")))
	}
	assertSymmetric(t, reg)
}

func TestParseRoomKey(t *testing.T) {
	t.Parallel()

	k, err := ParseRoomKey("course:abc:def")
	if err != nil || k.Type != RoomCourse || k.ID != "abc:def" {
		t.Fatalf("ParseRoomKey = %+v, %v", k, err)
	}
	for _, bad := range []string{"", "course", "course:", ":x", "planet:x"} {
		if _, err := ParseRoomKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if got := (RoomKey{Type: RoomLiveSession, ID: "c1/s9"}).courseOf(); got != "c1" {
		t.Fatalf("courseOf=%q", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	c := NewClient("c1", devices.Info{}, time.Now(), 1)
	if c.State() != StateConnecting {
		t.Fatalf("initial state %s", c.State())
	}
	if err := c.Advance(StateActive); err == nil {
		t.Fatalf("connecting -> active must be rejected")
	}
	if err := c.Advance(StateClosed); err != nil {
		t.Fatalf("connecting -> closed: %v", err)
	}
	if err := c.Advance(StateConnecting); err == nil {
		t.Fatalf("closed is terminal")
	}

	c2 := newBoundClient(t, "c2", "u1", identity.RoleStudent, 1)
	if err := c2.Bind(auth.Identity{UserID: "u2", Role: identity.RoleStudent}); err == nil {
		t.Fatalf("a connection must not be rebound to another user")
	}
	for _, s := range []State{StateRegistered, StateActive, StateDisconnecting, StateClosed} {
		if err := c2.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if c2.UserID != "u1" {
		t.Fatalf("identity changed: %s", c2.UserID)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d rejected", i)
		}
	}
	if rl.Allow(base.Add(10 * time.Millisecond)) {
		t.Fatalf("4th event inside window allowed")
	}
	if !rl.Allow(base.Add(time.Second + time.Millisecond)) {
		t.Fatalf("event after window rejected")
	}
}
