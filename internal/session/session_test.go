package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/attach"
	"parley/internal/models"
	"parley/internal/transport"
)

type sendCall struct {
	roomID  string
	text    string
	replyTo string
	files   []attach.StagedFile
}

// fakeAPI is a programmable REST collaborator. A gate channel per room
// lets tests hold a history fetch in flight.
type fakeAPI struct {
	mu         sync.Mutex
	history    map[string][]models.Message
	historyErr map[string]error
	gates      map[string]chan struct{}
	fetches    []string
	sends      []sendCall
	sendResult *models.Message
	sendErr    error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:    make(map[string][]models.Message),
		historyErr: make(map[string]error),
		gates:      make(map[string]chan struct{}),
	}
}

func (f *fakeAPI) FetchHistory(_ context.Context, roomID string) ([]models.Message, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, roomID)
	gate := f.gates[roomID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.historyErr[roomID]; err != nil {
		return nil, err
	}
	return f.history[roomID], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, roomID, text, replyTo string, files []attach.StagedFile) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{roomID: roomID, text: text, replyTo: replyTo, files: files})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeSub struct {
	rt *fakeRealtime
}

func (s *fakeSub) Cancel() {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	delete(s.rt.subs, s)
}

// fakeRealtime records room commands and fans emitted messages back to
// its own subscribers, like the real channel does for the sender.
type fakeRealtime struct {
	mu     sync.Mutex
	joined []string
	left   []string
	subs   map[*fakeSub]transport.Handler
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{subs: make(map[*fakeSub]transport.Handler)}
}

func (f *fakeRealtime) Join(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeRealtime) Leave(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeRealtime) Subscribe(handler transport.Handler) Subscription {
	sub := &fakeSub{rt: f}
	f.mu.Lock()
	f.subs[sub] = handler
	f.mu.Unlock()
	return sub
}

func (f *fakeRealtime) Emit(msg *models.Message) error {
	f.Deliver(transport.Event{Type: transport.EventMessageDelivered, RoomID: msg.RoomID, Message: msg})
	return nil
}

func (f *fakeRealtime) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeRealtime) Deliver(ev transport.Event) {
	f.mu.Lock()
	handlers := make([]transport.Handler, 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func roomA() *models.Room {
	return &models.Room{ID: "room_a", Members: []models.User{
		{ID: "usr_1", DisplayName: "John"},
		{ID: "usr_2", DisplayName: "Joanna"},
		{ID: "usr_3", DisplayName: "Mark"},
	}}
}

func roomB() *models.Room {
	return &models.Room{ID: "room_b", Members: []models.User{
		{ID: "usr_1", DisplayName: "John"},
	}}
}

func message(id, roomID, text string) models.Message {
	return models.Message{
		ID: id, RoomID: roomID, Text: text,
		Sender:    models.User{ID: "usr_2", DisplayName: "Joanna"},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func startSession(t *testing.T, api *fakeAPI, rt *fakeRealtime) *Session {
	t.Helper()
	s := New(api, rt, Options{SelfID: "usr_1", MaxFiles: 5})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSelectRoomLoadsHistory(t *testing.T) {
	api := newFakeAPI()
	api.history["room_a"] = []models.Message{
		message("msg_1", "room_a", "first"),
		message("msg_2", "room_a", "second"),
	}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	if err := s.SelectRoom(roomA()); err != nil {
		t.Fatalf("SelectRoom() error = %v", err)
	}

	waitFor(t, "history to land", func() bool { return len(s.Messages()) == 2 })
	got := s.Messages()
	if got[0].ID != "msg_1" || got[1].ID != "msg_2" {
		t.Fatalf("Messages() = [%s %s], want fetched order", got[0].ID, got[1].ID)
	}
	if len(rt.joined) != 1 || rt.joined[0] != "room_a" {
		t.Fatalf("joined = %v, want [room_a]", rt.joined)
	}
}

func TestSelectSameRoomIsNoOp(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	room := roomA()
	if err := s.SelectRoom(room); err != nil {
		t.Fatalf("SelectRoom() error = %v", err)
	}
	waitFor(t, "first fetch", func() bool { return api.fetchCount() == 1 })

	if err := s.SelectRoom(room); err != nil {
		t.Fatalf("SelectRoom() again error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if api.fetchCount() != 1 {
		t.Fatalf("fetch count = %d after reselect, want 1", api.fetchCount())
	}
	if len(rt.left) != 0 {
		t.Fatalf("left = %v after reselect, want none", rt.left)
	}
}

func TestEventsForOtherRoomsDropped(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "history fetch", func() bool { return api.fetchCount() == 1 })

	rt.Deliver(transport.Event{Type: transport.EventMessageDelivered, RoomID: "room_other",
		Message: &models.Message{ID: "msg_stray", RoomID: "room_other"}})
	rt.Deliver(transport.Event{Type: transport.EventMessageDelivered, RoomID: "room_a",
		Message: &models.Message{ID: "msg_ok", RoomID: "room_a"}})

	waitFor(t, "routed event", func() bool { return len(s.Messages()) == 1 })
	if got := s.Messages(); got[0].ID != "msg_ok" {
		t.Fatalf("Messages() = %v, want only msg_ok", got)
	}
}

func TestLiveEventBeforeHistoryOrderedAfterPrefix(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.gates["room_a"] = gate
	api.history["room_a"] = []models.Message{
		message("msg_h1", "room_a", "history one"),
		message("msg_h2", "room_a", "history two"),
	}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "fetch started", func() bool { return api.fetchCount() == 1 })

	rt.Deliver(transport.Event{Type: transport.EventMessageDelivered, RoomID: "room_a",
		Message: &models.Message{ID: "msg_live", RoomID: "room_a"}})
	time.Sleep(20 * time.Millisecond)
	if len(s.Messages()) != 0 {
		t.Fatalf("Messages() = %v before history, want empty", s.Messages())
	}

	close(gate)
	waitFor(t, "history plus live", func() bool { return len(s.Messages()) == 3 })

	got := s.Messages()
	want := []string{"msg_h1", "msg_h2", "msg_live"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("Messages()[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestRoomSwitchDiscardsStaleHistoryResult(t *testing.T) {
	api := newFakeAPI()
	gateA := make(chan struct{})
	api.gates["room_a"] = gateA
	api.history["room_a"] = []models.Message{message("msg_stale", "room_a", "belongs to A")}
	api.history["room_b"] = []models.Message{message("msg_b", "room_b", "belongs to B")}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "room A fetch started", func() bool { return api.fetchCount() == 1 })

	s.SelectRoom(roomB())
	waitFor(t, "room B history", func() bool { return len(s.Messages()) == 1 })

	// Room A's fetch resolves only now; its result must not appear.
	close(gateA)
	time.Sleep(30 * time.Millisecond)

	got := s.Messages()
	if len(got) != 1 || got[0].ID != "msg_b" {
		t.Fatalf("Messages() = %v, want only room B's history", got)
	}
	if len(rt.left) != 1 || rt.left[0] != "room_a" {
		t.Fatalf("left = %v, want [room_a]", rt.left)
	}
}

func TestHistoryFailureLeavesRoomSubscribed(t *testing.T) {
	api := newFakeAPI()
	fetchErr := errors.New("network down")
	api.historyErr["room_a"] = fetchErr
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())

	select {
	case err := <-s.Errors():
		if !errors.Is(err, fetchErr) {
			t.Fatalf("Errors() delivered %v, want wrapped fetch error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported for failed history fetch")
	}

	if len(s.Messages()) != 0 {
		t.Fatalf("Messages() = %v, want empty store", s.Messages())
	}
	if room := s.Room(); room == nil || room.ID != "room_a" {
		t.Fatalf("Room() = %v, want room_a still selected", room)
	}

	// The subscription is unaffected; the store buffers deliveries
	// since history never landed for this activation.
	rt.Deliver(transport.Event{Type: transport.EventMessageDelivered, RoomID: "room_a",
		Message: &models.Message{ID: "msg_later", RoomID: "room_a"}})
	time.Sleep(20 * time.Millisecond)
	if rt.subCount() != 1 {
		t.Fatalf("subscriptions = %d, want 1 still active", rt.subCount())
	}
}

func TestSendRequiresRoomAndContent(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	if err := s.Send(context.Background()); !errors.Is(err, ErrNoActiveRoom) {
		t.Fatalf("Send() error = %v, want ErrNoActiveRoom", err)
	}

	s.SelectRoom(roomA())
	waitFor(t, "history", func() bool { return api.fetchCount() == 1 })

	if err := s.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Send() error = %v, want ErrEmptyMessage", err)
	}
	s.SetText("   ")
	if err := s.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Send() with blank text error = %v, want ErrEmptyMessage", err)
	}
	if api.sendCount() != 0 {
		t.Fatalf("send count = %d, validation must not reach the API", api.sendCount())
	}
}

func TestSendClearsCompositionAndDedupesSelfEcho(t *testing.T) {
	api := newFakeAPI()
	api.history["room_a"] = []models.Message{message("msg_old", "room_a", "existing")}
	api.sendResult = &models.Message{ID: "msg_new", RoomID: "room_a", Text: "hello @John "}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "history", func() bool { return len(s.Messages()) == 1 })

	s.SetText("hello @John ")
	if err := s.SetReplyTarget("msg_old"); err != nil {
		t.Fatalf("SetReplyTarget() error = %v", err)
	}

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	api.mu.Lock()
	call := api.sends[0]
	api.mu.Unlock()
	if call.roomID != "room_a" || call.text != "hello @John " || call.replyTo != "msg_old" {
		t.Fatalf("SendMessage called with %+v", call)
	}

	// The emit looped straight back through the fake transport; dedup
	// keeps a single entry.
	waitFor(t, "echo ingested once", func() bool { return len(s.Messages()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := s.Messages(); len(got) != 2 || got[1].ID != "msg_new" {
		t.Fatalf("Messages() = %v, want [msg_old msg_new]", got)
	}

	comp := s.Composition()
	if comp.Text != "" || comp.ReplyTarget != "" || len(comp.Files) != 0 {
		t.Fatalf("Composition() = %+v after send, want cleared", comp)
	}
}

func TestSendFailureLeavesCompositionIntact(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("rejected")
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "history", func() bool { return api.fetchCount() == 1 })

	s.SetText("do not lose this")
	err := s.Send(context.Background())
	if err == nil || !errors.Is(err, api.sendErr) {
		t.Fatalf("Send() error = %v, want wrapped send failure", err)
	}

	comp := s.Composition()
	if comp.Text != "do not lose this" {
		t.Fatalf("Composition().Text = %q, want draft kept for retry", comp.Text)
	}
}

func TestRoomSwitchClearsComposition(t *testing.T) {
	api := newFakeAPI()
	api.history["room_a"] = []models.Message{message("msg_old", "room_a", "existing")}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	waitFor(t, "history", func() bool { return len(s.Messages()) == 1 })
	s.SetText("draft for room A")
	if err := s.SetReplyTarget("msg_old"); err != nil {
		t.Fatalf("SetReplyTarget() error = %v", err)
	}

	s.SelectRoom(roomB())

	comp := s.Composition()
	if comp.Text != "" || comp.ReplyTarget != "" {
		t.Fatalf("Composition() = %+v after room switch, want discarded", comp)
	}
}

func TestCompositionDerivesMentionCandidates(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime()
	s := startSession(t, api, rt)

	s.SelectRoom(roomA())
	s.SetText("hello @jo")

	comp := s.Composition()
	if !comp.QueryActive || comp.MentionQuery != "jo" {
		t.Fatalf("Composition() query = (%q, %v), want (jo, true)", comp.MentionQuery, comp.QueryActive)
	}
	if len(comp.Candidates) != 2 ||
		comp.Candidates[0].User.DisplayName != "Joanna" ||
		comp.Candidates[1].User.DisplayName != "John" {
		t.Fatalf("Candidates = %v, want [Joanna John]", comp.Candidates)
	}

	s.CommitMention(comp.Candidates[1].User)
	if got := s.Composition().Text; got != "hello @John " {
		t.Fatalf("text after CommitMention = %q, want %q", got, "hello @John ")
	}
}

func TestClickMentionEmitsOpenConversation(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime()
	s := startSession(t, api, rt)
	s.SelectRoom(roomA())

	s.ClickMention("Joanna")
	select {
	case n := <-s.Notifications():
		if n.Kind != NotifyOpenConversation || n.UserID != "usr_2" {
			t.Fatalf("notification = %+v, want open conversation with usr_2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for mention click")
	}

	// Self clicks and unknown names emit nothing.
	s.ClickMention("John")
	s.ClickMention("Ghost")
	select {
	case n := <-s.Notifications():
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNavigateToReplyValidatedAgainstStore(t *testing.T) {
	api := newFakeAPI()
	api.history["room_a"] = []models.Message{message("msg_old", "room_a", "existing")}
	rt := newFakeRealtime()
	s := startSession(t, api, rt)
	s.SelectRoom(roomA())
	waitFor(t, "history", func() bool { return len(s.Messages()) == 1 })

	s.NavigateToReply("msg_missing")
	s.NavigateToReply("msg_old")

	select {
	case n := <-s.Notifications():
		if n.Kind != NotifyScrollToMessage || n.MessageID != "msg_old" {
			t.Fatalf("notification = %+v, want scroll to msg_old", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no navigation notification")
	}
	select {
	case n := <-s.Notifications():
		t.Fatalf("suppressed navigation leaked: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}
