package server

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agoralabs/agora/internal/chat"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newChatServer(t *testing.T, cfg chat.RoomConfig) *httptest.Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	handler, err := NewHTTPHandler(Dependencies{
		Room:   chat.NewRoom(cfg),
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func dialChat(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("failed to decode envelope %s: %v", frame, err)
	}
	return envelope.Event, envelope.Data
}

// waitForEvent reads frames until the named event arrives, failing if a
// frame of any of the forbidden event types shows up first.
func waitForEvent(t *testing.T, conn *websocket.Conn, name string, forbidden ...string) json.RawMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		event, data := readEnvelope(t, conn)
		if event == name {
			return data
		}
		for _, banned := range forbidden {
			if event == banned {
				t.Fatalf("received forbidden event %q while waiting for %q", event, name)
			}
		}
	}
	t.Fatalf("event %q never arrived", name)
	return nil
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	frame, err := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(data)})
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

func TestConnectAssignsPseudonymAndSendsEmptySnapshot(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})
	conn := dialChat(t, server)

	event, data := readEnvelope(t, conn)
	if event != chat.EventUsernameAssigned {
		t.Fatalf("expected %s first, got %s", chat.EventUsernameAssigned, event)
	}
	var assigned struct {
		Pseudonym string `json:"pseudonym"`
	}
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatalf("failed to decode assignment: %v", err)
	}
	if assigned.Pseudonym == "" {
		t.Fatalf("expected a non-empty pseudonym")
	}

	event, data = readEnvelope(t, conn)
	if event != chat.EventInitialMessages {
		t.Fatalf("expected %s second, got %s", chat.EventInitialMessages, event)
	}
	var initial struct {
		Messages []chat.MessageView `json:"messages"`
	}
	if err := json.Unmarshal(data, &initial); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(initial.Messages) != 0 {
		t.Fatalf("expected empty snapshot on fresh instance, got %d", len(initial.Messages))
	}

	event, data = readEnvelope(t, conn)
	if event != chat.EventUserCount {
		t.Fatalf("expected %s third, got %s", chat.EventUserCount, event)
	}
	var count struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &count); err != nil {
		t.Fatalf("failed to decode user count: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected user count 1, got %d", count.Count)
	}
}

func TestSendMessageFansOutToAllClients(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	author := dialChat(t, server)
	authorData := waitForEvent(t, author, chat.EventUsernameAssigned)
	var assigned struct {
		Pseudonym string `json:"pseudonym"`
	}
	if err := json.Unmarshal(authorData, &assigned); err != nil {
		t.Fatalf("failed to decode assignment: %v", err)
	}

	observer := dialChat(t, server)
	waitForEvent(t, observer, chat.EventUserCount)

	sendEnvelope(t, author, "send_message", map[string]string{"text": "hello"})

	for name, conn := range map[string]*websocket.Conn{"author": author, "observer": observer} {
		data := waitForEvent(t, conn, chat.EventNewMessage)
		var message chat.MessageView
		if err := json.Unmarshal(data, &message); err != nil {
			t.Fatalf("%s: failed to decode message: %v", name, err)
		}
		if message.Text != "hello" {
			t.Fatalf("%s: unexpected text %q", name, message.Text)
		}
		if message.AuthorPseudonym != assigned.Pseudonym {
			t.Fatalf("%s: expected author %q, got %q", name, assigned.Pseudonym, message.AuthorPseudonym)
		}
		if message.Score != 0 || len(message.Voters) != 0 {
			t.Fatalf("%s: expected fresh message, got score=%d voters=%v", name, message.Score, message.Voters)
		}
	}
}

func TestOpposingVotesCancelOutAndRecordBothVoters(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	author := dialChat(t, server)
	first := dialChat(t, server)
	second := dialChat(t, server)

	sendEnvelope(t, author, "send_message", map[string]string{"text": "contested"})

	var message chat.MessageView
	if err := json.Unmarshal(waitForEvent(t, author, chat.EventNewMessage), &message); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	waitForEvent(t, first, chat.EventNewMessage)
	waitForEvent(t, second, chat.EventNewMessage)

	sendEnvelope(t, first, "vote_message", map[string]string{"messageId": message.ID, "voteType": "up"})

	var update struct {
		MessageID string   `json:"messageId"`
		Votes     int      `json:"votes"`
		Voters    []string `json:"voters"`
	}
	if err := json.Unmarshal(waitForEvent(t, author, chat.EventMessageUpdated), &update); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}
	if update.Votes != 1 || len(update.Voters) != 1 {
		t.Fatalf("expected score 1 with one voter, got %+v", update)
	}
	waitForEvent(t, first, chat.EventMessageUpdated)
	waitForEvent(t, second, chat.EventMessageUpdated)

	sendEnvelope(t, second, "vote_message", map[string]string{"messageId": message.ID, "voteType": "down"})

	if err := json.Unmarshal(waitForEvent(t, author, chat.EventMessageUpdated), &update); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}
	if update.MessageID != message.ID {
		t.Fatalf("update references wrong message %q", update.MessageID)
	}
	if update.Votes != 0 {
		t.Fatalf("expected opposing votes to cancel to 0, got %d", update.Votes)
	}
	if len(update.Voters) != 2 {
		t.Fatalf("expected 2 recorded voters, got %v", update.Voters)
	}
}

func TestRepeatVoteProducesNoBroadcast(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	author := dialChat(t, server)
	voter := dialChat(t, server)

	sendEnvelope(t, author, "send_message", map[string]string{"text": "once only"})
	var message chat.MessageView
	if err := json.Unmarshal(waitForEvent(t, author, chat.EventNewMessage), &message); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	waitForEvent(t, voter, chat.EventNewMessage)

	sendEnvelope(t, voter, "vote_message", map[string]string{"messageId": message.ID, "voteType": "up"})
	waitForEvent(t, author, chat.EventMessageUpdated)
	waitForEvent(t, voter, chat.EventMessageUpdated)

	// A repeat vote is silently dropped; the next broadcast the author
	// sees must be the follow-up message, never another update.
	sendEnvelope(t, voter, "vote_message", map[string]string{"messageId": message.ID, "voteType": "down"})
	sendEnvelope(t, voter, "send_message", map[string]string{"text": "follow-up"})

	data := waitForEvent(t, author, chat.EventNewMessage, chat.EventMessageUpdated)
	var followUp chat.MessageView
	if err := json.Unmarshal(data, &followUp); err != nil {
		t.Fatalf("failed to decode follow-up: %v", err)
	}
	if followUp.Text != "follow-up" {
		t.Fatalf("unexpected follow-up text %q", followUp.Text)
	}
}

func TestDisconnectBroadcastsDecrementedUserCount(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	leaver := dialChat(t, server)
	observer := dialChat(t, server)

	// Observer's join snapshot reports two sessions.
	var count struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(waitForEvent(t, observer, chat.EventUserCount), &count); err != nil {
		t.Fatalf("failed to decode count: %v", err)
	}
	if count.Count != 2 {
		t.Fatalf("expected 2 sessions, got %d", count.Count)
	}

	leaver.Close()

	if err := json.Unmarshal(waitForEvent(t, observer, chat.EventUserCount), &count); err != nil {
		t.Fatalf("failed to decode count: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected count to drop to 1, got %d", count.Count)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	conn := dialChat(t, server)
	waitForEvent(t, conn, chat.EventUserCount)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}
	sendEnvelope(t, conn, "shout_message", map[string]string{"text": "??"})
	sendEnvelope(t, conn, "send_message", map[string]string{"text": "   "})
	sendEnvelope(t, conn, "vote_message", map[string]string{"messageId": "bogus", "voteType": "sideways"})
	sendEnvelope(t, conn, "vote_message", map[string]string{"messageId": "bogus", "voteType": "up"})

	// The connection survives and the next valid message still flows.
	sendEnvelope(t, conn, "send_message", map[string]string{"text": "still alive"})
	data := waitForEvent(t, conn, chat.EventNewMessage, chat.EventMessageUpdated)
	var message chat.MessageView
	if err := json.Unmarshal(data, &message); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if message.Text != "still alive" {
		t.Fatalf("unexpected text %q", message.Text)
	}
}

func TestOverLengthMessageIsDropped(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{MaxMessageLength: 5})

	conn := dialChat(t, server)
	waitForEvent(t, conn, chat.EventUserCount)

	sendEnvelope(t, conn, "send_message", map[string]string{"text": "exceeds the limit"})
	sendEnvelope(t, conn, "send_message", map[string]string{"text": "ok"})

	data := waitForEvent(t, conn, chat.EventNewMessage)
	var message chat.MessageView
	if err := json.Unmarshal(data, &message); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if message.Text != "ok" {
		t.Fatalf("expected only the valid message to broadcast, got %q", message.Text)
	}
}

func TestLateJoinerReceivesExistingLog(t *testing.T) {
	server := newChatServer(t, chat.RoomConfig{})

	author := dialChat(t, server)
	for i := 0; i < 3; i++ {
		sendEnvelope(t, author, "send_message", map[string]string{"text": fmt.Sprintf("message %d", i)})
		waitForEvent(t, author, chat.EventNewMessage)
	}

	late := dialChat(t, server)
	waitForEvent(t, late, chat.EventUsernameAssigned)
	data := waitForEvent(t, late, chat.EventInitialMessages)
	var initial struct {
		Messages []chat.MessageView `json:"messages"`
	}
	if err := json.Unmarshal(data, &initial); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(initial.Messages) != 3 {
		t.Fatalf("expected 3 messages in snapshot, got %d", len(initial.Messages))
	}
	if initial.Messages[0].Text != "message 0" || initial.Messages[2].Text != "message 2" {
		t.Fatalf("snapshot out of order: %+v", initial.Messages)
	}
}

func TestNewHTTPHandlerRequiresRoom(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error without a room")
	}
}
