// Package archive keeps a process-lifetime transcript of accepted chat
// mutations in SQLite for non-real-time observers. The default DSN is an
// in-memory database, so nothing survives a restart.
package archive

import (
	"fmt"
	"sync"
	"time"

	"github.com/agoralabs/agora/internal/chat"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultDSN keeps the transcript in process memory.
const DefaultDSN = "file::memory:?cache=shared"

const queueSize = 256

// MessageRecord is one archived chat message.
type MessageRecord struct {
	MessageID       string    `gorm:"column:message_id;primaryKey;size:64;not null" json:"messageId"`
	Text            string    `gorm:"column:text;size:512;not null" json:"text"`
	AuthorPseudonym string    `gorm:"column:author_pseudonym;size:64;not null" json:"authorPseudonym"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	ArchivedAt      time.Time `gorm:"column:archived_at;autoCreateTime" json:"archivedAt"`
}

// TableName exposes the table backing archived messages.
func (MessageRecord) TableName() string {
	return "archived_messages"
}

// VoteRecord is one archived accepted vote.
type VoteRecord struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MessageID  string    `gorm:"column:message_id;size:64;not null;index" json:"messageId"`
	VoterID    string    `gorm:"column:voter_id;size:64;not null" json:"voterId"`
	Direction  string    `gorm:"column:direction;size:8;not null" json:"direction"`
	Score      int       `gorm:"column:score;not null" json:"score"`
	ArchivedAt time.Time `gorm:"column:archived_at;autoCreateTime" json:"archivedAt"`
}

// TableName exposes the table backing archived votes.
func (VoteRecord) TableName() string {
	return "archived_votes"
}

// Archive records accepted mutations off the coordination path. Writes
// are queued onto a single worker so the caller never blocks on SQLite;
// a full queue drops the record and logs it.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
	queue  chan func(db *gorm.DB)
	done   chan struct{}
}

// Open establishes the SQLite transcript database, migrates the schema,
// and starts the write-behind worker.
func Open(dsn string, logger *zap.Logger) (*Archive, error) {
	if dsn == "" {
		return nil, fmt.Errorf("archive dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&MessageRecord{}, &VoteRecord{}); err != nil {
		return nil, err
	}

	a := &Archive{
		db:     db,
		logger: logger,
		queue:  make(chan func(db *gorm.DB), queueSize),
		done:   make(chan struct{}),
	}
	go a.run()

	logger.Info("archive initialized", zap.String("dsn", dsn))
	return a, nil
}

func (a *Archive) run() {
	defer close(a.done)
	for write := range a.queue {
		write(a.db)
	}
}

// Close drains pending writes and stops the worker. The read side stays
// usable afterwards, and records arriving after Close are dropped.
func (a *Archive) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

// RecordMessage implements chat.Recorder.
func (a *Archive) RecordMessage(message chat.MessageView) {
	record := MessageRecord{
		MessageID:       message.ID,
		Text:            message.Text,
		AuthorPseudonym: message.AuthorPseudonym,
		CreatedAt:       message.CreatedAt,
	}
	a.enqueue(func(db *gorm.DB) {
		if err := db.Create(&record).Error; err != nil {
			a.logger.Warn("failed to archive message", zap.String("message_id", record.MessageID), zap.Error(err))
		}
	})
}

// RecordVote implements chat.Recorder.
func (a *Archive) RecordVote(messageID, voterID string, direction chat.Direction, score int) {
	record := VoteRecord{
		MessageID: messageID,
		VoterID:   voterID,
		Direction: string(direction),
		Score:     score,
	}
	a.enqueue(func(db *gorm.DB) {
		if err := db.Create(&record).Error; err != nil {
			a.logger.Warn("failed to archive vote", zap.String("message_id", record.MessageID), zap.Error(err))
		}
	})
}

// enqueue hands a write to the worker. The closed check and the send
// happen under the same mutex as Close, so a record arriving after
// shutdown is dropped instead of hitting a closed channel.
func (a *Archive) enqueue(write func(db *gorm.DB)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("archive closed, record dropped")
		return
	}
	select {
	case a.queue <- write:
	default:
		a.logger.Warn("archive queue full, record dropped")
	}
}

// RecentMessages returns up to limit archived messages, newest first.
func (a *Archive) RecentMessages(limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []MessageRecord
	err := a.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// VotesForMessage returns the archived vote trail for one message,
// oldest first.
func (a *Archive) VotesForMessage(messageID string) ([]VoteRecord, error) {
	var records []VoteRecord
	err := a.db.Where("message_id = ?", messageID).Order("id ASC").Find(&records).Error
	return records, err
}
