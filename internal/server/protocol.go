package server

import "encoding/json"

// Inbound event names form a closed protocol; anything else is dropped.
const (
	inboundEventSendMessage = "send_message"
	inboundEventVoteMessage = "vote_message"
)

// inboundEnvelope frames every client-to-server websocket message.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessagePayload struct {
	Text string `json:"text"`
}

type voteMessagePayload struct {
	MessageID string `json:"messageId"`
	VoteType  string `json:"voteType"`
}

// outboundEnvelope frames every server-to-client websocket message.
type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
