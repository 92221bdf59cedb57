package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/app/user"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/passwd"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

type fakeGateway struct {
	mu     sync.Mutex
	frames map[string][]Envelope
	closes map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{frames: make(map[string][]Envelope), closes: make(map[string]int)}
}

func (g *fakeGateway) Send(_ context.Context, connID string, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames[connID] = append(g.frames[connID], env)
	return nil
}

func (g *fakeGateway) Disconnect(_ context.Context, connID string, code int, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes[connID] = code
	return nil
}

func (g *fakeGateway) types(connID string) []EventType {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]EventType, 0, len(g.frames[connID]))
	for _, env := range g.frames[connID] {
		out = append(out, env.Type)
	}
	return out
}

func (g *fakeGateway) find(connID string, t EventType) []Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Envelope
	for _, env := range g.frames[connID] {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (g *fakeGateway) closeCode(connID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes[connID]
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames = make(map[string][]Envelope)
	g.closes = make(map[string]int)
}

type tokenVerifier struct{}

// Verify treats the token as the user id.
func (tokenVerifier) Verify(token string) (string, error) {
	if token == "" || token == "forged" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t        *testing.T
	coord    *Coordinator
	rooms    room.Repository
	users    *user.MemoryRepository
	presence *presence.MemoryStore
	gw       *fakeGateway
	clock    *fakeClock
	hasher   passwd.Hasher
	conns    int
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		rooms:    room.NewMemoryRepository(),
		users:    user.NewMemoryRepository(),
		presence: presence.NewMemoryStore(),
		gw:       newFakeGateway(),
		clock:    &fakeClock{now: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)},
		hasher:   passwd.NewBcryptHasher(4),
	}

	for _, name := range []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace"} {
		if _, err := h.users.Create(context.Background(), user.User{ID: name, Name: strings.ToUpper(name[:1]) + name[1:]}); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
	}

	deps := Deps{
		Rooms:    h.rooms,
		Users:    h.users,
		Presence: h.presence,
		Gateway:  h.gw,
		Verifier: tokenVerifier{},
		Hasher:   h.hasher,
		Settings: Settings{Capacity: 5, StoreTimeout: time.Second, Curve: user.Curve{PerHour: 90, LevelBase: 3}},
		Logger:   zerolog.Nop(),
		Clock:    h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.rooms = deps.Rooms

	h.coord = NewCoordinator(deps)
	return h
}

func (h *harness) createRoom(host, password string) *room.Room {
	h.t.Helper()

	r := &room.Room{
		Title:     "Cable club",
		CreatedBy: host,
		Roster:    []room.Membership{{UserID: host, Role: room.RoleHost, JoinedAt: h.clock.Now()}},
	}
	if password != "" {
		digest, err := h.hasher.Hash(password)
		if err != nil {
			h.t.Fatalf("Hash() error = %v", err)
		}
		r.IsPrivate = true
		r.PasswordDigest = digest
	}

	created, err := h.rooms.Create(context.Background(), r)
	if err != nil {
		h.t.Fatalf("Create() error = %v", err)
	}
	return created
}

func (h *harness) connect(uid string) *Session {
	h.t.Helper()

	h.conns++
	s, cerr := h.coord.Connect(context.Background(), fmt.Sprintf("conn_%s_%d", uid, h.conns), uid)
	if cerr != nil {
		h.t.Fatalf("Connect(%s) error = %v", uid, cerr)
	}
	return s
}

func (h *harness) send(s *Session, t EventType, payload any) {
	h.t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}
	frame, _ := json.Marshal(Envelope{Type: t, Payload: body})
	h.coord.Handle(context.Background(), s, frame)
}

func (h *harness) join(s *Session, roomID, password string) {
	h.t.Helper()
	h.send(s, EventJoin, JoinPayload{RoomID: roomID, Password: password})
}

func (h *harness) mustJoin(s *Session, roomID string) {
	h.t.Helper()
	h.join(s, roomID, "")
	if s.State() != StateInRoom {
		h.t.Fatalf("%s did not join: frames %v", s.UserID(), h.gw.types(s.ID))
	}
}

func (h *harness) room(id string) *room.Room {
	h.t.Helper()
	r, err := h.rooms.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("Get(%s) error = %v", id, err)
	}
	return r
}

func (h *harness) expectError(s *Session, code errs.Code) {
	h.t.Helper()

	frames := h.gw.find(s.ID, EventError)
	if len(frames) == 0 {
		h.t.Fatalf("no error frame for %s, frames %v", s.ID, h.gw.types(s.ID))
	}
	got := payloadOf[ErrorPayload](h.t, frames[len(frames)-1])
	if got.Code != code {
		h.t.Fatalf("error code = %s, want %s", got.Code, code)
	}
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return out
}

func hostCount(r *room.Room) int {
	n := 0
	for _, m := range r.Roster {
		if m.Role == room.RoleHost {
			n++
		}
	}
	return n
}

func equalTypes(got, want []EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestConnectRejectsInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	if _, cerr := h.coord.Connect(context.Background(), "conn_x", "forged"); cerr == nil || cerr.Code != errs.ErrUnauthorized {
		t.Fatalf("Connect(forged) error = %v, want UNAUTHORIZED", cerr)
	}
	if _, cerr := h.coord.Connect(context.Background(), "conn_y", "stranger"); cerr == nil || cerr.Code != errs.ErrUnauthorized {
		t.Fatalf("Connect(unknown user) error = %v, want UNAUTHORIZED", cerr)
	}
}

func TestJoinPublicRoom(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	h.mustJoin(alice, r.ID)

	if got := h.gw.types(alice.ID); !equalTypes(got, []EventType{EventWelcome, EventRoomInfo, EventPresenceInfo}) {
		t.Fatalf("host frames = %v", got)
	}
	info := payloadOf[PresenceInfoPayload](t, h.gw.find(alice.ID, EventPresenceInfo)[0])
	if !info.Self.IsHost || len(info.Others) != 0 {
		t.Fatalf("host presence = %+v", info)
	}

	h.gw.reset()
	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)

	if got := h.gw.types(bob.ID); !equalTypes(got, []EventType{EventWelcome, EventRoomInfo, EventPresenceInfo}) {
		t.Fatalf("joiner frames = %v", got)
	}
	if got := h.gw.types(alice.ID); !equalTypes(got, []EventType{EventWelcome, EventNewUser, EventPresenceInfo}) {
		t.Fatalf("existing member frames = %v", got)
	}

	roomInfo := payloadOf[RoomInfoPayload](t, h.gw.find(bob.ID, EventRoomInfo)[0])
	if roomInfo.RoomID != r.ID || roomInfo.Capacity != 5 {
		t.Fatalf("room-info = %+v", roomInfo)
	}

	bobView := payloadOf[PresenceInfoPayload](t, h.gw.find(bob.ID, EventPresenceInfo)[0])
	if bobView.Self.UserID != "bob" || bobView.Self.IsHost || len(bobView.Others) != 1 || bobView.Others[0].UserID != "alice" {
		t.Fatalf("joiner presence = %+v", bobView)
	}

	welcome := payloadOf[AnnouncementPayload](t, h.gw.find(alice.ID, EventWelcome)[0])
	if welcome.Sender.UserID != "bob" || welcome.Sender.DisplayName != "Bob" || welcome.ID == "" {
		t.Fatalf("welcome = %+v", welcome)
	}

	updated := h.room(r.ID)
	if len(updated.Roster) != 2 || hostCount(updated) != 1 || !updated.IsHost("alice") {
		t.Fatalf("roster = %+v", updated.Roster)
	}
}

func TestJoinUnknownRoomClosesConnection(t *testing.T) {
	h := newHarness(t)
	bob := h.connect("bob")

	h.join(bob, "no-such-room", "")

	h.expectError(bob, errs.ErrRoomNotFound)
	if code := h.gw.closeCode(bob.ID); code != WsCloseCodeJoinFailed {
		t.Fatalf("close code = %d, want %d", code, WsCloseCodeJoinFailed)
	}
}

func TestRejoinDoesNotDuplicateRoster(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)
	h.coord.Disconnect(context.Background(), bob)

	if _, ok := h.room(r.ID).Member("bob"); !ok {
		t.Fatal("dropped connection should keep its roster entry")
	}

	again := h.connect("bob")
	h.mustJoin(again, r.ID)

	if n := len(h.room(r.ID).Roster); n != 2 {
		t.Fatalf("roster size = %d, want 2", n)
	}
}

func TestPrivateRoomPassword(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "purl-two")

	missing := h.connect("bob")
	h.join(missing, r.ID, "")
	h.expectError(missing, errs.ErrMissingPassword)
	if h.gw.closeCode(missing.ID) != WsCloseCodeJoinFailed {
		t.Fatal("missing password should close the connection")
	}

	wrong := h.connect("bob")
	h.join(wrong, r.ID, "knit-one")
	h.expectError(wrong, errs.ErrBadPassword)

	if _, ok := h.room(r.ID).Member("bob"); ok {
		t.Fatal("failed joins must not touch the roster")
	}

	right := h.connect("bob")
	h.join(right, r.ID, "purl-two")
	if right.State() != StateInRoom {
		t.Fatalf("correct password rejected: %v", h.gw.types(right.ID))
	}
}

func TestCapacityRejectsWithoutRosterChange(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	for _, uid := range []string{"alice", "bob", "carol", "dave", "erin"} {
		h.mustJoin(h.connect(uid), r.ID)
	}
	before := h.room(r.ID)

	frank := h.connect("frank")
	h.join(frank, r.ID, "")

	h.expectError(frank, errs.ErrRoomIsFull)
	if h.gw.closeCode(frank.ID) != WsCloseCodeJoinFailed {
		t.Fatal("full room should close the joiner")
	}

	after := h.room(r.ID)
	if len(after.Roster) != len(before.Roster) || after.Version != before.Version {
		t.Fatalf("roster changed on rejected join: %d -> %d", len(before.Roster), len(after.Roster))
	}
	if n, _ := h.presence.Count(context.Background(), r.ID); n != 5 {
		t.Fatalf("live count = %d, want 5", n)
	}
}

func TestRosterMemberStillBoundByCapacity(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	frank := h.connect("frank")
	h.mustJoin(frank, r.ID)
	h.coord.Disconnect(context.Background(), frank)

	for _, uid := range []string{"alice", "bob", "carol", "dave", "erin"} {
		h.mustJoin(h.connect(uid), r.ID)
	}

	again := h.connect("frank")
	h.join(again, r.ID, "")
	h.expectError(again, errs.ErrRoomIsFull)

	if _, ok := h.room(r.ID).Member("frank"); !ok {
		t.Fatal("existing roster entry must survive a full-room rejection")
	}
}

func TestKickBlocksRejoin(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.gw.reset()

	h.send(alice, EventKick, KickPayload{TargetUserID: "bob"})

	if len(h.gw.find(bob.ID, EventKicked)) != 1 {
		t.Fatalf("kicked frames = %v", h.gw.types(bob.ID))
	}
	if code := h.gw.closeCode(bob.ID); code != WsCloseCodeKicked {
		t.Fatalf("close code = %d, want %d", code, WsCloseCodeKicked)
	}
	if got := h.gw.types(alice.ID); !equalTypes(got, []EventType{EventDisconnectMember, EventPresenceInfo}) {
		t.Fatalf("host frames = %v", got)
	}
	gone := payloadOf[UserRefPayload](t, h.gw.find(alice.ID, EventDisconnectMember)[0])
	if gone.UserID != "bob" {
		t.Fatalf("disconnect-member = %+v", gone)
	}

	updated := h.room(r.ID)
	if _, ok := updated.Member("bob"); ok || !updated.IsBlocked("bob") {
		t.Fatalf("roster = %+v block list = %v", updated.Roster, updated.BlockList)
	}

	// The kicked transport closing afterwards is a no-op.
	h.coord.Disconnect(context.Background(), bob)

	rejoin := h.connect("bob")
	h.join(rejoin, r.ID, "")
	h.expectError(rejoin, errs.ErrBlocked)
}

func TestKickValidation(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	carol := h.connect("carol")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.mustJoin(carol, r.ID)

	h.send(bob, EventKick, KickPayload{TargetUserID: "carol"})
	h.expectError(bob, errs.ErrNotHost)
	if h.gw.closeCode(bob.ID) != 0 {
		t.Fatal("a rejected kick must not close the caller")
	}

	h.send(alice, EventKick, KickPayload{TargetUserID: "zed"})
	h.expectError(alice, errs.ErrNotAMember)

	h.send(alice, EventKick, KickPayload{TargetUserID: "alice"})
	h.expectError(alice, errs.ErrInvalidPayload)

	h.send(alice, EventKick, KickPayload{TargetUserID: "carol"})
	h.send(alice, EventKick, KickPayload{TargetUserID: "carol"})
	h.expectError(alice, errs.ErrNotAMember)
}

func TestHostLeaveTransfersToEarliestMember(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	h.mustJoin(alice, r.ID)
	h.clock.Advance(time.Minute)
	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)
	h.clock.Advance(time.Minute)
	carol := h.connect("carol")
	h.mustJoin(carol, r.ID)
	h.gw.reset()

	h.coord.Disconnect(context.Background(), alice)

	updated := h.room(r.ID)
	if _, ok := updated.Member("alice"); ok {
		t.Fatal("departing host should leave the roster")
	}
	if !updated.IsHost("bob") || hostCount(updated) != 1 {
		t.Fatalf("roster after transfer = %+v", updated.Roster)
	}

	entry, ok, _ := h.presence.Lookup(context.Background(), r.ID, "bob")
	if !ok || !entry.IsHost {
		t.Fatalf("successor presence = %+v", entry)
	}

	for _, s := range []*Session{bob, carol} {
		if got := h.gw.types(s.ID); !equalTypes(got, []EventType{EventBye, EventPresenceInfo}) {
			t.Fatalf("%s frames = %v", s.UserID(), got)
		}
	}
	bye := payloadOf[AnnouncementPayload](t, h.gw.find(bob.ID, EventBye)[0])
	if bye.Sender.UserID != "alice" || !bye.Sender.IsHost {
		t.Fatalf("bye = %+v", bye)
	}

	view := payloadOf[PresenceInfoPayload](t, h.gw.find(carol.ID, EventPresenceInfo)[0])
	if len(view.Others) != 1 || view.Others[0].UserID != "bob" || !view.Others[0].IsHost {
		t.Fatalf("carol presence = %+v", view)
	}

	if alice.State() != StateClosed {
		t.Fatalf("state = %s, want closed", alice.State())
	}
}

func TestLastHostLeaveDeletesRoom(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	h.mustJoin(alice, r.ID)
	h.coord.Disconnect(context.Background(), alice)

	if _, err := h.rooms.Get(context.Background(), r.ID); !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRoomClosedEvictsLiveConnections(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	h.mustJoin(alice, r.ID)

	// A live entry that is not on the roster, such as one left behind by another instance.
	ghost := presence.Entry{UserID: "grace", ConnectionID: "conn_ghost", Name: "Grace", JoinedAt: h.clock.Now()}
	if _, err := h.presence.Add(context.Background(), r.ID, ghost, 0); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	h.send(alice, EventLeave, struct{}{})

	closed := h.gw.find("conn_ghost", EventRoomClosed)
	if len(closed) != 1 || payloadOf[RoomClosedPayload](t, closed[0]).RoomID != r.ID {
		t.Fatalf("ghost frames = %v", h.gw.types("conn_ghost"))
	}
	if code := h.gw.closeCode("conn_ghost"); code != WsCloseCodeRoomClosed {
		t.Fatalf("close code = %d, want %d", code, WsCloseCodeRoomClosed)
	}
	if n, _ := h.presence.Count(context.Background(), r.ID); n != 0 {
		t.Fatalf("presence after close = %d", n)
	}
	if alice.State() != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", alice.State())
	}
}

func TestVoluntaryLeaveRemovesRosterEntry(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.gw.reset()

	h.send(bob, EventLeave, struct{}{})

	if _, ok := h.room(r.ID).Member("bob"); ok {
		t.Fatal("leave should remove the roster entry")
	}
	if bob.State() != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", bob.State())
	}
	if got := h.gw.types(alice.ID); !equalTypes(got, []EventType{EventBye, EventPresenceInfo}) {
		t.Fatalf("host frames = %v", got)
	}

	h.send(bob, EventLeave, struct{}{})
	h.expectError(bob, errs.ErrNotInRoom)

	// The same connection may join again.
	h.mustJoin(bob, r.ID)
}

func TestHostlessRosterIsRepaired(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Now()
	r, err := h.rooms.Create(context.Background(), &room.Room{
		Title: "Orphaned",
		Roster: []room.Membership{
			{UserID: "bob", Role: room.RoleMember, JoinedAt: t0},
			{UserID: "carol", Role: room.RoleMember, JoinedAt: t0.Add(time.Second)},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)
	h.send(bob, EventLeave, struct{}{})

	updated := h.room(r.ID)
	if _, ok := updated.Member("bob"); ok {
		t.Fatal("bob should have left the roster")
	}
	if !updated.IsHost("carol") || hostCount(updated) != 1 {
		t.Fatalf("repaired roster = %+v", updated.Roster)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.gw.reset()

	h.coord.Disconnect(context.Background(), bob)
	h.coord.Disconnect(context.Background(), bob)

	if n := len(h.gw.find(alice.ID, EventBye)); n != 1 {
		t.Fatalf("bye count = %d, want 1", n)
	}
	if bob.State() != StateClosed {
		t.Fatalf("state = %s, want closed", bob.State())
	}
}

func TestDisconnectCompletesOnCancelledContext(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.coord.Disconnect(ctx, bob)

	if _, ok, _ := h.presence.Lookup(context.Background(), r.ID, "bob"); ok {
		t.Fatal("presence entry survived disconnect on a cancelled context")
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	first := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(first, r.ID)

	second := h.connect("bob")
	h.mustJoin(second, r.ID)

	if code := h.gw.closeCode(first.ID); code != WsCloseCodeSessionReplaced {
		t.Fatalf("old connection close code = %d, want %d", code, WsCloseCodeSessionReplaced)
	}
	if n, _ := h.presence.Count(context.Background(), r.ID); n != 2 {
		t.Fatalf("live count = %d, want 2", n)
	}

	// Frames racing the close are refused.
	h.send(first, EventBroadcast, BroadcastPayload{Content: "hello?"})
	h.expectError(first, errs.ErrNotInRoom)

	h.gw.reset()
	h.coord.Disconnect(context.Background(), first)

	if len(h.gw.find(alice.ID, EventBye)) != 0 {
		t.Fatal("closing the replaced connection must not announce a departure")
	}
	entry, ok, _ := h.presence.Lookup(context.Background(), r.ID, "bob")
	if !ok || entry.ConnectionID != second.ID {
		t.Fatalf("presence entry = %+v", entry)
	}
}

func TestExperienceAccruesOnLeave(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)
	h.clock.Advance(time.Hour)
	h.send(bob, EventLeave, struct{}{})

	u, _ := h.users.Get(context.Background(), "bob")
	if u.Level != 0 || u.Experience != 90 {
		t.Fatalf("after first hour level=%d exp=%v, want 0/90", u.Level, u.Experience)
	}

	h.mustJoin(bob, r.ID)
	h.clock.Advance(time.Hour)
	h.coord.Disconnect(context.Background(), bob)

	u, _ = h.users.Get(context.Background(), "bob")
	if u.Level != 1 || u.Experience != 80 {
		t.Fatalf("after rollover level=%d exp=%v, want 1/80", u.Level, u.Experience)
	}
}

type conflictingRooms struct {
	room.Repository

	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictingRooms) AddMember(ctx context.Context, roomID string, m room.Membership, v int64) (*room.Room, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()

	if fail {
		return nil, room.ErrConflict
	}
	return c.Repository.AddMember(ctx, roomID, m, v)
}

func TestJoinRetriesConflictOnce(t *testing.T) {
	repo := &conflictingRooms{Repository: room.NewMemoryRepository(), failures: 1}
	h := newHarness(t, func(d *Deps) { d.Rooms = repo })
	r := h.createRoom("alice", "")

	bob := h.connect("bob")
	h.mustJoin(bob, r.ID)
	if repo.calls != 2 {
		t.Fatalf("AddMember calls = %d, want 2", repo.calls)
	}
}

func TestJoinReportsPersistentConflict(t *testing.T) {
	repo := &conflictingRooms{Repository: room.NewMemoryRepository(), failures: 2}
	h := newHarness(t, func(d *Deps) { d.Rooms = repo })
	r := h.createRoom("alice", "")

	bob := h.connect("bob")
	h.join(bob, r.ID, "")

	h.expectError(bob, errs.ErrConflict)
	if repo.calls != 2 {
		t.Fatalf("AddMember calls = %d, want 2", repo.calls)
	}
	if n, _ := h.presence.Count(context.Background(), r.ID); n != 0 {
		t.Fatalf("live count = %d, want 0", n)
	}
}

func TestBroadcastAndDirectMessage(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	carol := h.connect("carol")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.mustJoin(carol, r.ID)
	h.gw.reset()

	h.send(bob, EventBroadcast, BroadcastPayload{Content: "Anyone tried brioche?"})
	for _, s := range []*Session{alice, bob, carol} {
		msgs := h.gw.find(s.ID, EventNewMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d messages", s.UserID(), len(msgs))
		}
		msg := payloadOf[ChatPayload](t, msgs[0])
		if msg.Scope != ScopeRoom || msg.Sender.UserID != "bob" || msg.Content != "Anyone tried brioche?" || msg.Timestamp == 0 {
			t.Fatalf("message = %+v", msg)
		}
	}

	h.gw.reset()
	h.send(bob, EventDirectMessage, DirectMessagePayload{RecipientUserID: "alice", Content: "psst"})
	if len(h.gw.find(carol.ID, EventNewMessage)) != 0 {
		t.Fatal("direct message leaked to a third member")
	}
	for _, s := range []*Session{alice, bob} {
		msgs := h.gw.find(s.ID, EventNewMessage)
		if len(msgs) != 1 || payloadOf[ChatPayload](t, msgs[0]).Scope != ScopeDirect {
			t.Fatalf("%s direct frames = %v", s.UserID(), h.gw.types(s.ID))
		}
	}

	h.gw.reset()
	h.send(bob, EventDirectMessage, DirectMessagePayload{RecipientUserID: "zed", Content: "hello"})
	if got := h.gw.types(bob.ID); len(got) != 0 {
		t.Fatalf("absent recipient should be dropped silently, got %v", got)
	}

	h.send(bob, EventBroadcast, BroadcastPayload{Content: strings.Repeat("k", MaxContentBytes+1)})
	h.expectError(bob, errs.ErrMessageContentTooLong)

	h.send(bob, EventBroadcast, BroadcastPayload{Content: "  "})
	h.expectError(bob, errs.ErrInvalidPayload)
}

func TestSignalingRelay(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")

	alice := h.connect("alice")
	bob := h.connect("bob")
	h.mustJoin(alice, r.ID)
	h.mustJoin(bob, r.ID)
	h.gw.reset()

	h.send(bob, EventOffer, DescriptionPayload{Target: "alice", SDP: testSDP})
	offers := h.gw.find(alice.ID, EventOffer)
	if len(offers) != 1 {
		t.Fatalf("alice frames = %v", h.gw.types(alice.ID))
	}
	var offer struct {
		Type     string `json:"type"`
		SDP      string `json:"sdp"`
		SenderID string `json:"senderId"`
	}
	if err := json.Unmarshal(offers[0].Payload, &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP != testSDP || offer.SenderID != "bob" {
		t.Fatalf("offer = %+v", offer)
	}

	h.send(alice, EventAnswer, DescriptionPayload{Target: "bob", SDP: testSDP})
	if len(h.gw.find(bob.ID, EventAnswer)) != 1 {
		t.Fatalf("bob frames = %v", h.gw.types(bob.ID))
	}

	mid := "0"
	h.send(bob, EventICECandidate, map[string]any{
		"target":    "alice",
		"candidate": "candidate:1 1 udp 2122260223 192.0.2.1 54321 typ host",
		"sdpMid":    mid,
	})
	cands := h.gw.find(alice.ID, EventICECandidate)
	if len(cands) != 1 {
		t.Fatalf("alice frames = %v", h.gw.types(alice.ID))
	}
	cand := payloadOf[ICECandidatePayload](t, cands[0])
	if cand.SenderID != "bob" || cand.SDPMid == nil || *cand.SDPMid != mid {
		t.Fatalf("candidate = %+v", cand)
	}

	h.send(bob, EventOffer, DescriptionPayload{Target: "carol", SDP: testSDP})
	h.expectError(bob, errs.ErrTargetNotFound)

	h.send(bob, EventOffer, DescriptionPayload{Target: "alice", SDP: "not a session description"})
	h.expectError(bob, errs.ErrInvalidPayload)

	if h.gw.closeCode(bob.ID) != 0 {
		t.Fatal("signaling errors must not close the connection")
	}
}

func TestEventsOutsideRoom(t *testing.T) {
	h := newHarness(t)
	r := h.createRoom("alice", "")
	bob := h.connect("bob")

	h.send(bob, EventBroadcast, BroadcastPayload{Content: "hi"})
	h.expectError(bob, errs.ErrNotInRoom)

	h.send(bob, EventType("dance"), struct{}{})
	h.expectError(bob, errs.ErrUnknownEvent)

	h.coord.Handle(context.Background(), bob, []byte("{not json"))
	h.expectError(bob, errs.ErrInvalidPayload)

	if h.gw.closeCode(bob.ID) != 0 {
		t.Fatal("non-join errors must not close the connection")
	}

	h.mustJoin(bob, r.ID)
	h.join(bob, r.ID, "")
	h.expectError(bob, errs.ErrAlreadyJoined)
	if h.gw.closeCode(bob.ID) != 0 {
		t.Fatal("ALREADY_JOINED must not close the connection")
	}
}
