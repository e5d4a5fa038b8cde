package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownSession indicates a mutating event referenced a session
	// that is not currently registered.
	ErrUnknownSession = errors.New("chat: unknown session")
	// ErrUnknownMessage indicates a vote referenced a message that was
	// evicted or never existed.
	ErrUnknownMessage = errors.New("chat: unknown message")
	// ErrAlreadyVoted indicates the voter already cast a vote on the message.
	ErrAlreadyVoted = errors.New("chat: already voted")
	// ErrEmptyText indicates message text is empty after trimming.
	ErrEmptyText = errors.New("chat: empty message text")
	// ErrTextTooLong indicates message text exceeds the configured limit.
	ErrTextTooLong = errors.New("chat: message text too long")
	// ErrUnknownVote indicates an unrecognized vote direction.
	ErrUnknownVote = errors.New("chat: unknown vote direction")
)

// Direction is a vote direction.
type Direction string

const (
	// DirectionUp increments a message score.
	DirectionUp Direction = "up"
	// DirectionDown decrements a message score.
	DirectionDown Direction = "down"
)

// ParseDirection validates a raw vote direction from the wire.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.TrimSpace(raw)) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVote, raw)
	}
}

// Session is the immutable public view of one live connection.
type Session struct {
	ID          string
	Pseudonym   string
	ConnectedAt time.Time
}

// message is the room-owned representation of one posted entry. The
// voters map doubles as the vote ledger: at most one recorded direction
// per voter identity, never removed.
type message struct {
	id              string
	text            string
	authorPseudonym string
	createdAt       time.Time
	score           int
	voters          map[string]Direction
}

func (m *message) view() MessageView {
	voters := make([]string, 0, len(m.voters))
	for voterID := range m.voters {
		voters = append(voters, voterID)
	}
	sort.Strings(voters)
	return MessageView{
		ID:              m.id,
		Text:            m.text,
		AuthorPseudonym: m.authorPseudonym,
		CreatedAt:       m.createdAt,
		Score:           m.score,
		Voters:          voters,
	}
}

// MessageView is the serializable snapshot of a message, with the voter
// set rendered as a sorted list.
type MessageView struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	AuthorPseudonym string    `json:"authorPseudonym"`
	CreatedAt       time.Time `json:"createdAt"`
	Score           int       `json:"score"`
	Voters          []string  `json:"voters"`
}

// IDProvider issues message identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
