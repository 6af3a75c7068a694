// Package session owns the active room: subscription lifecycle,
// history loading, the in-progress composition, and send
// orchestration. All state mutations funnel through a single run-loop
// goroutine; the presentation layer talks to it through the exported
// methods.
package session

import (
	"context"
	"errors"
	"log/slog"

	"parley/internal/attach"
	"parley/internal/mention"
	"parley/internal/models"
	"parley/internal/reply"
	"parley/internal/store"
	"parley/internal/transport"
)

var (
	ErrNoActiveRoom = errors.New("no active room selected")
	ErrEmptyMessage = errors.New("message needs text or at least one file")
	ErrTextTooLong  = errors.New("message text too long")
	ErrSessionDone  = errors.New("session stopped")
)

// MessageAPI is the REST collaborator contract the session consumes.
type MessageAPI interface {
	FetchHistory(ctx context.Context, roomID string) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID, text, replyTo string, files []attach.StagedFile) (*models.Message, error)
}

// Subscription is a cancellable handler registration on the realtime
// channel.
type Subscription interface {
	Cancel()
}

// Realtime is the event channel collaborator contract.
type Realtime interface {
	Join(roomID string) error
	Leave(roomID string) error
	Subscribe(handler transport.Handler) Subscription
	Emit(msg *models.Message) error
}

// WrapChannel adapts a concrete transport channel to the Realtime
// contract.
func WrapChannel(ch *transport.Channel) Realtime {
	return channelRealtime{ch}
}

type channelRealtime struct {
	ch *transport.Channel
}

func (c channelRealtime) Join(roomID string) error  { return c.ch.Join(roomID) }
func (c channelRealtime) Leave(roomID string) error { return c.ch.Leave(roomID) }
func (c channelRealtime) Emit(msg *models.Message) error {
	return c.ch.Emit(msg)
}
func (c channelRealtime) Subscribe(handler transport.Handler) Subscription {
	return c.ch.Subscribe(handler)
}

// NotificationKind classifies requests the session emits toward the
// surrounding application.
type NotificationKind int

const (
	// NotifyOpenConversation asks the app to switch to a conversation
	// with the referenced user (mention click).
	NotifyOpenConversation NotificationKind = iota
	// NotifyScrollToMessage asks the presentation layer to scroll to
	// and highlight a message (reply preview click).
	NotifyScrollToMessage
)

type Notification struct {
	Kind      NotificationKind
	UserID    string
	MessageID string
}

// Options configures a session.
type Options struct {
	SelfID         string
	MaxFiles       int
	MaxTextLen     int
	PreviewMaxEdge int
	PreviewQuality int
}

// Composition is a point-in-time snapshot of the unsent message state
// for the active room.
type Composition struct {
	Text         string
	ReplyTarget  string
	Files        []attach.StagedFile
	MentionQuery string
	QueryActive  bool
	Candidates   []mention.Candidate
}

// Session is the room session controller.
type Session struct {
	api      MessageAPI
	realtime Realtime
	opts     Options

	ops  chan func()
	done chan struct{}

	// Loop-owned state. Touched only from Run's goroutine.
	room     *models.Room
	epoch    int
	sub      Subscription
	messages *store.Store
	stager   *attach.Stager
	linker   *reply.Linker
	text     string

	errs  chan error
	notes chan Notification
}

func New(api MessageAPI, realtime Realtime, opts Options) *Session {
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = 4000
	}
	messages := store.New()
	return &Session{
		api:      api,
		realtime: realtime,
		opts:     opts,
		ops:      make(chan func(), 64),
		done:     make(chan struct{}),
		messages: messages,
		stager:   attach.NewStager(opts.MaxFiles, opts.PreviewMaxEdge, opts.PreviewQuality),
		linker:   reply.NewLinker(messages),
		errs:     make(chan error, 8),
		notes:    make(chan Notification, 8),
	}
}

// Run drives the session loop until the context is cancelled. It must
// be running before any other method is used.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case op := <-s.ops:
			op()
		}
	}
}

func (s *Session) teardown() {
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	if s.room != nil {
		s.realtime.Leave(s.room.ID)
		s.room = nil
	}
	s.stager.Clear()
}

// post schedules an op on the loop without waiting for it.
func (s *Session) post(op func()) bool {
	select {
	case s.ops <- op:
		return true
	case <-s.done:
		return false
	}
}

// call schedules an op and waits for it to complete.
func (s *Session) call(op func()) error {
	ran := make(chan struct{})
	ok := s.post(func() {
		op()
		close(ran)
	})
	if !ok {
		return ErrSessionDone
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionDone
	}
}

// Errors delivers recoverable failures (history fetch rejection) to
// the presentation layer.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Notifications delivers navigation and open-conversation requests.
func (s *Session) Notifications() <-chan Notification {
	return s.notes
}

// SelectRoom makes the given room active: leaves the previous room,
// discards its store and composition, subscribes to the new room and
// starts an asynchronous history fetch. Selecting the already active
// room is a no-op.
func (s *Session) SelectRoom(room *models.Room) error {
	var fetchRoom string
	var fetchEpoch int
	err := s.call(func() {
		if s.room != nil && s.room.ID == room.ID {
			fetchRoom = ""
			return
		}

		if s.sub != nil {
			s.sub.Cancel()
			s.sub = nil
		}
		if s.room != nil {
			s.realtime.Leave(s.room.ID)
		}

		s.room = room
		s.epoch++
		s.messages.Reset()
		s.stager.Clear()
		s.linker.ClearTarget()
		s.text = ""

		roomID := room.ID
		epoch := s.epoch
		s.sub = s.realtime.Subscribe(func(ev transport.Event) {
			s.receiveEvent(epoch, roomID, ev)
		})
		s.realtime.Join(roomID)

		fetchRoom = roomID
		fetchEpoch = epoch
	})
	if err != nil || fetchRoom == "" {
		return err
	}

	go s.fetchHistory(fetchRoom, fetchEpoch)
	return nil
}

func (s *Session) fetchHistory(roomID string, epoch int) {
	history, err := s.api.FetchHistory(context.Background(), roomID)
	s.post(func() {
		// A room switch bumps the epoch; results for a now-inactive
		// room are discarded here.
		if epoch != s.epoch {
			return
		}
		if err != nil {
			slog.Warn("history fetch failed", "component", "session", "room_id", roomID, "error", err)
			s.report(err)
			return
		}
		s.messages.IngestHistory(history)
	})
}

// receiveEvent routes a delivered transport event into the store. Runs
// on the transport's delivery goroutine; the actual mutation is posted
// onto the loop.
func (s *Session) receiveEvent(epoch int, roomID string, ev transport.Event) {
	if ev.RoomID != roomID || ev.Message == nil {
		return
	}
	msg := *ev.Message
	s.post(func() {
		if epoch != s.epoch {
			return
		}
		s.messages.IngestLive(msg)
	})
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		slog.Warn("dropping session error, consumer not draining", "component", "session", "error", err)
	}
}

func (s *Session) notify(n Notification) {
	select {
	case s.notes <- n:
	default:
		slog.Warn("dropping session notification, consumer not draining", "component", "session", "kind", int(n.Kind))
	}
}

// Room returns the active room, or nil.
func (s *Session) Room() *models.Room {
	var room *models.Room
	s.call(func() { room = s.room })
	return room
}

// Messages returns the active room's ordered message sequence.
func (s *Session) Messages() []models.Message {
	return s.messages.All()
}

// SetText updates the draft text.
func (s *Session) SetText(text string) {
	s.call(func() { s.text = text })
}

// Composition snapshots the unsent message state, including the
// mention query derived from the draft tail and its ranked candidates.
func (s *Session) Composition() Composition {
	var comp Composition
	s.call(func() {
		comp.Text = s.text
		comp.Files = s.stager.Files()
		if target, ok := s.linker.Target(); ok {
			comp.ReplyTarget = target
		}
		if query, ok := mention.DetectQuery(s.text); ok {
			comp.QueryActive = true
			comp.MentionQuery = query
			comp.Candidates = mention.Candidates(s.room, query)
		}
	})
	return comp
}

// CommitMention replaces the active @query with the chosen member's
// display name.
func (s *Session) CommitMention(user models.User) {
	s.call(func() {
		s.text = mention.Commit(s.text, user)
	})
}

// SetReplyTarget declares the composition a reply to the given
// message, which must be in the active room's loaded log.
func (s *Session) SetReplyTarget(messageID string) error {
	var err error
	if callErr := s.call(func() { err = s.linker.SetTarget(messageID) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) ClearReplyTarget() {
	s.call(func() { s.linker.ClearTarget() })
}

// AddFiles stages candidate files for the next send.
func (s *Session) AddFiles(files ...attach.FileInput) error {
	var err error
	if callErr := s.call(func() { err = s.stager.Add(files...) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) RemoveFile(index int) {
	s.call(func() { s.stager.Remove(index) })
}

// Spans renders a message's text as plain and mention spans against
// the active room's member list.
func (s *Session) Spans(msg models.Message) []mention.Span {
	var spans []mention.Span
	s.call(func() { spans = mention.Parse(msg.Text, s.room) })
	return spans
}

// ReplyPreview resolves a message's reply reference against the loaded
// log.
func (s *Session) ReplyPreview(msg models.Message) reply.Preview {
	var p reply.Preview
	s.call(func() { p = s.linker.Resolve(msg) })
	return p
}

// ClickMention resolves a clicked mention and, when it names another
// member, emits an open-conversation request. Unknown names and
// self-clicks emit nothing.
func (s *Session) ClickMention(displayName string) {
	s.call(func() {
		user, ok := mention.ResolveClick(s.room, displayName, s.opts.SelfID)
		if !ok {
			return
		}
		s.notify(Notification{Kind: NotifyOpenConversation, UserID: user.ID})
	})
}

// NavigateToReply emits a scroll request for the given message id if
// it is present in the loaded log, and suppresses it otherwise.
func (s *Session) NavigateToReply(messageID string) {
	s.call(func() {
		target, ok := s.linker.NavigationTarget(messageID)
		if !ok {
			return
		}
		s.notify(Notification{Kind: NotifyScrollToMessage, MessageID: target})
	})
}
