package gossip

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the dissemination role of a message.
type Kind string

const (
	// KindPush carries state to a peer.
	KindPush Kind = "push"
	// KindPull requests the receiver's state.
	KindPull Kind = "pull"
	// KindAck acknowledges receipt of a push.
	KindAck Kind = "ack"
	// KindDigest carries a compact state digest for comparison.
	KindDigest Kind = "digest"
)

// Payload topics dispatched to per-topic handlers on receipt.
const (
	TopicExperiences = "experiences"
	TopicState       = "state"
	TopicKnowledge   = "knowledge"
	TopicMemories    = "memories"
)

// Payload is the opaque application content of a message plus the topic
// that routes it to a handler.
type Payload struct {
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is the gossip wire format. Field names and the type enum are
// the compatibility surface; Timestamp is epoch milliseconds.
type Message struct {
	ID          string            `json:"id"`
	Type        Kind              `json:"type"`
	SenderID    string            `json:"senderId"`
	VectorClock map[string]uint64 `json:"vectorClock"`
	Payload     Payload           `json:"payload,omitempty"`
	Signature   []byte            `json:"signature,omitempty"`
	TTL         int               `json:"ttl"`
	Timestamp   int64             `json:"timestamp"`
}

// newMessage assembles an unsigned message with a fresh id.
func newMessage(kind Kind, senderID string, clock map[string]uint64, payload Payload, ttl int) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Type:        kind,
		SenderID:    senderID,
		VectorClock: clock,
		Payload:     payload,
		TTL:         ttl,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// signingBytes returns the canonical byte form covered by the signature:
// the message with signature and TTL cleared. TTL is excluded because
// forwarders decrement it in flight; everything else is immutable once
// signed.
func (m *Message) signingBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Signature = nil
	unsigned.TTL = 0
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encode message for signing: %w", err)
	}
	return data, nil
}

// round is the sender's own clock entry, the per-sender logical round
// used for equivocation comparison.
func (m *Message) round() uint64 {
	return m.VectorClock[m.SenderID]
}
