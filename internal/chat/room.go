package chat

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agoralabs/agora/internal/names"
	"go.uber.org/zap"
)

const (
	defaultCapacity         = 100
	defaultMaxMessageLength = 500
	defaultEventBuffer      = 64
)

// Recorder receives accepted mutations for out-of-band bookkeeping.
// Implementations must not block: they are invoked on the serialized
// mutation path.
type Recorder interface {
	RecordMessage(message MessageView)
	RecordVote(messageID, voterID string, direction Direction, score int)
}

// RoomConfig carries the knobs for a Room. Zero values select the
// defaults (capacity 100, text limit 500 runes, event buffer 64).
type RoomConfig struct {
	Capacity         int
	MaxMessageLength int
	EventBuffer      int
	Clock            func() time.Time
	IDProvider       IDProvider
	Pseudonyms       func() string
	Recorder         Recorder
	Logger           *zap.Logger
}

// Room is the single owned aggregate holding the session registry, the
// bounded message log, and the per-message vote ledger. Every mutation
// runs under one mutex, and the resulting broadcast is published before
// the mutex is released, so all sessions observe events in one global
// total order.
type Room struct {
	mu         sync.Mutex
	sessions   map[string]*liveSession
	messages   []*message
	byID       map[string]*message
	capacity   int
	maxLength  int
	buffer     int
	clock      func() time.Time
	ids        IDProvider
	pseudonyms func() string
	recorder   Recorder
	logger     *zap.Logger
}

type liveSession struct {
	session Session
	events  chan Event
}

// NewRoom constructs a Room, filling unset config fields with defaults.
func NewRoom(cfg RoomConfig) *Room {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	maxLength := cfg.MaxMessageLength
	if maxLength <= 0 {
		maxLength = defaultMaxMessageLength
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	pseudonyms := cfg.Pseudonyms
	if pseudonyms == nil {
		pseudonyms = names.Generate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Room{
		sessions:   make(map[string]*liveSession),
		byID:       make(map[string]*message),
		capacity:   capacity,
		maxLength:  maxLength,
		buffer:     buffer,
		clock:      clock,
		ids:        ids,
		pseudonyms: pseudonyms,
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// Join registers a session under the given transport identifier, mints
// its pseudonym, queues the assignment and log snapshot on its event
// stream, and broadcasts the updated user count to everyone (the new
// session included). The returned channel is closed on Leave. The
// identifier is opaque; any value, including the empty string, names a
// valid session.
func (r *Room) Join(sessionID string) (Session, <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.sessions[sessionID]; ok {
		// Transport ids are expected to be unique; a reused id
		// supersedes the stale registration.
		close(previous.events)
		delete(r.sessions, sessionID)
	}

	live := &liveSession{
		session: Session{
			ID:          sessionID,
			Pseudonym:   r.pseudonyms(),
			ConnectedAt: r.clock(),
		},
		events: make(chan Event, r.buffer),
	}
	r.sessions[sessionID] = live

	r.deliverLocked(live, UsernameAssigned{Pseudonym: live.session.Pseudonym})
	r.deliverLocked(live, InitialMessages{Messages: r.snapshotLocked()})
	r.publishLocked(UserCount{Count: len(r.sessions)})

	return live.session, live.events
}

// Leave removes a session and broadcasts the decremented user count.
// Unknown session ids are a silent no-op, so the call is idempotent.
// Messages and votes the session produced are untouched.
func (r *Room) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	close(live.events)
	r.publishLocked(UserCount{Count: len(r.sessions)})
}

// Count reports the number of currently registered sessions.
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// MessageCount reports the number of retained messages without copying
// the log.
func (r *Room) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Post validates and appends a message authored by the given session,
// evicting the oldest entry when the log would exceed capacity, and
// broadcasts the new message. The author pseudonym is captured by value
// and outlives the session.
func (r *Room) Post(sessionID, text string) (MessageView, error) {
	trimmed, err := validateText(text, r.maxLength)
	if err != nil {
		return MessageView{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	author, ok := r.sessions[sessionID]
	if !ok {
		return MessageView{}, ErrUnknownSession
	}

	messageID, err := r.ids.NewID()
	if err != nil {
		return MessageView{}, err
	}

	entry := &message{
		id:              messageID,
		text:            trimmed,
		authorPseudonym: author.session.Pseudonym,
		createdAt:       r.clock(),
		voters:          make(map[string]Direction),
	}
	r.messages = append(r.messages, entry)
	r.byID[entry.id] = entry
	if len(r.messages) > r.capacity {
		evicted := r.messages[0]
		r.messages = r.messages[1:]
		delete(r.byID, evicted.id)
	}

	view := entry.view()
	r.publishLocked(NewMessage(view))
	if r.recorder != nil {
		r.recorder.RecordMessage(view)
	}
	return view, nil
}

// Vote records a single vote by voterID on the identified message and
// broadcasts the updated score. A vote is permanent: there is no
// retract or change operation, and a repeat vote fails ErrAlreadyVoted
// without touching the score.
func (r *Room) Vote(messageID, voterID string, direction Direction) (MessageUpdated, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return MessageUpdated{}, ErrUnknownVote
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[messageID]
	if !ok {
		return MessageUpdated{}, ErrUnknownMessage
	}
	if _, voted := entry.voters[voterID]; voted {
		return MessageUpdated{}, ErrAlreadyVoted
	}

	entry.voters[voterID] = direction
	if direction == DirectionUp {
		entry.score++
	} else {
		entry.score--
	}

	view := entry.view()
	update := MessageUpdated{
		MessageID: entry.id,
		Votes:     entry.score,
		Voters:    view.Voters,
	}
	r.publishLocked(update)
	if r.recorder != nil {
		r.recorder.RecordVote(entry.id, voterID, direction, entry.score)
	}
	return update, nil
}

// Snapshot returns a consistent point-in-time copy of the message log,
// oldest first.
func (r *Room) Snapshot() []MessageView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() []MessageView {
	views := make([]MessageView, 0, len(r.messages))
	for _, entry := range r.messages {
		views = append(views, entry.view())
	}
	return views
}

// publishLocked fans the event out to every registered session. Sends
// never block: a session whose buffer is full loses its copy rather
// than stalling the mutation path.
func (r *Room) publishLocked(event Event) {
	for _, live := range r.sessions {
		r.deliverLocked(live, event)
	}
}

func (r *Room) deliverLocked(live *liveSession, event Event) {
	select {
	case live.events <- event:
	default:
		r.logger.Debug("event dropped for slow session",
			zap.String("session_id", live.session.ID),
			zap.String("event", event.EventName()))
	}
}

func validateText(text string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}
