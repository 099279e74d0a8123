package gossip

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/identity"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/transport"
)

type stubState struct {
	mu   sync.Mutex
	data json.RawMessage
}

func (s *stubState) Snapshot() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

func (s *stubState) Digest() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return identity.ContentHash(s.data), nil
}

func testConfig() config.GossipConfig {
	return config.GossipConfig{
		Fanout:              3,
		Interval:            20 * time.Millisecond,
		TTL:                 5,
		MaxConcurrent:       8,
		SuspectTimeout:      time.Hour,
		DeadTimeout:         2 * time.Hour,
		SeenExpiry:          time.Hour,
		AntiEntropyInterval: time.Hour,
	}
}

type testNode struct {
	id       *identity.Identity
	protocol *Protocol
	state    *stubState
}

// newTestNode builds a protocol wired to a shared keyring so every test
// node can verify every other.
func newTestNode(t *testing.T, nodeID string, ring *identity.Keyring) *testNode {
	t.Helper()
	id, err := identity.New(nodeID)
	require.NoError(t, err)
	ring.Register(nodeID, id.PublicKey())

	state := &stubState{data: json.RawMessage(`{"node":"` + nodeID + `"}`)}
	return &testNode{
		id:       id,
		protocol: New(nodeID, testConfig(), id, ring, identity.ContentHash, state),
		state:    state,
	}
}

// signedFrom builds a message signed by the given node as if it arrived
// off the wire.
func signedFrom(t *testing.T, n *testNode, kind Kind, topic string, data json.RawMessage, round uint64) *Message {
	t.Helper()
	msg := newMessage(kind, n.id.NodeID(), map[string]uint64{n.id.NodeID(): round}, Payload{Topic: topic, Data: data}, 5)
	payload, err := msg.signingBytes()
	require.NoError(t, err)
	sig, err := n.id.Sign(payload)
	require.NoError(t, err)
	msg.Signature = sig
	return msg
}

func TestSendGossipSignsAndQueues(t *testing.T) {
	ring := identity.NewKeyring()
	n := newTestNode(t, "n1", ring)

	msg, err := n.protocol.SendGossip(KindPush, TopicState, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Signature)
	assert.Equal(t, 5, msg.TTL)

	// The clock ticked for the send.
	assert.Equal(t, uint64(1), msg.VectorClock["n1"])

	payload, err := msg.signingBytes()
	require.NoError(t, err)
	assert.True(t, ring.Verify("n1", payload, msg.Signature))
}

func TestSendGossipSelfVerificationFailure(t *testing.T) {
	// A keyring without our own key means the defensive self-check
	// fails before anything is queued.
	n := newTestNode(t, "n1", identity.NewKeyring())
	bad := identity.NewKeyring() // empty
	n.protocol.verifier = bad

	_, err := n.protocol.SendGossip(KindPush, TopicState, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrSelfVerification)
}

func TestReceiveGossipIsIdempotent(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)
	receiver.protocol.AddPeer("n2", "n2")

	var calls int
	receiver.protocol.RegisterHandler(TopicKnowledge, func(string, json.RawMessage) {
		calls++
	})

	msg := signedFrom(t, sender, KindPush, TopicKnowledge, json.RawMessage(`{"k":"v"}`), 1)

	assert.True(t, receiver.protocol.ReceiveGossip(context.Background(), msg))
	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), msg), "second delivery must be a no-op")
	assert.Equal(t, 1, calls)
}

func TestReceiveGossipDropsExpiredTTL(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)

	msg := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{}`), 1)
	msg.TTL = 0
	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), msg))
	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), nil))
}

func TestReceiveGossipDropsBadSignature(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)

	var calls int
	receiver.protocol.RegisterHandler(TopicState, func(string, json.RawMessage) { calls++ })

	msg := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"x":1}`), 1)
	msg.Payload.Data = json.RawMessage(`{"x":2}`) // tamper after signing

	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), msg))
	assert.Zero(t, calls)

	// Unknown sender drops too.
	stranger, err := identity.New("n9")
	require.NoError(t, err)
	strangerMsg := newMessage(KindPush, "n9", map[string]uint64{"n9": 1}, Payload{Topic: TopicState}, 5)
	payload, err := strangerMsg.signingBytes()
	require.NoError(t, err)
	strangerMsg.Signature, _ = stranger.Sign(payload)
	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), strangerMsg))
}

func TestReceiveGossipDetectsEquivocation(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)

	first := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"claim":"a"}`), 7)
	second := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"claim":"b"}`), 7)

	assert.True(t, receiver.protocol.ReceiveGossip(context.Background(), first))
	assert.False(t, receiver.protocol.ReceiveGossip(context.Background(), second), "same round, different payload")

	faults := receiver.protocol.Faults()
	require.Len(t, faults, 2)
	assert.Equal(t, "n2", faults[0].SenderID)
	assert.Equal(t, uint64(7), faults[0].Round)

	// A later round from the same sender is fine again.
	third := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"claim":"c"}`), 8)
	assert.True(t, receiver.protocol.ReceiveGossip(context.Background(), third))
}

func TestReceiveGossipMergesClockAndRevivesPeer(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)
	receiver.protocol.AddPeer("n2", "n2")

	// Force the peer to suspect, then receive from it.
	receiver.protocol.peers.sweep(0, time.Hour)
	p, _ := receiver.protocol.GetPeer("n2")
	require.Equal(t, PeerSuspect, p.Status)

	msg := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{}`), 4)
	require.True(t, receiver.protocol.ReceiveGossip(context.Background(), msg))

	entries := receiver.protocol.Clock().Entries()
	assert.Equal(t, uint64(4), entries["n2"])
	assert.GreaterOrEqual(t, entries["n1"], uint64(1), "merge advances the owner entry")

	p, _ = receiver.protocol.GetPeer("n2")
	assert.Equal(t, PeerActive, p.Status)
}

func TestAddPeerIgnoresSelf(t *testing.T) {
	ring := identity.NewKeyring()
	n := newTestNode(t, "n1", ring)
	n.protocol.AddPeer("n1", "self")
	assert.Empty(t, n.protocol.Peers())
}

// TestTwoNodePropagation runs two protocols over the in-process bus and
// checks that a push from one reaches the other's handler.
func TestTwoNodePropagation(t *testing.T) {
	ring := identity.NewKeyring()
	bus := transport.NewBus()

	a := newTestNode(t, "n1", ring)
	b := newTestNode(t, "n2", ring)

	received := make(chan json.RawMessage, 1)
	b.protocol.RegisterHandler(TopicMemories, func(sender string, data json.RawMessage) {
		if sender == "n1" {
			received <- data
		}
	})

	ctx := context.Background()
	epA, err := bus.Register("n1", func(from string, data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			a.protocol.ReceiveGossip(ctx, &msg)
		}
	})
	require.NoError(t, err)
	epB, err := bus.Register("n2", func(from string, data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			b.protocol.ReceiveGossip(ctx, &msg)
		}
	})
	require.NoError(t, err)
	a.protocol.Attach(epA)
	b.protocol.Attach(epB)

	a.protocol.AddPeer("n2", "n2")
	b.protocol.AddPeer("n1", "n1")

	require.NoError(t, a.protocol.Start(ctx))
	require.NoError(t, b.protocol.Start(ctx))
	defer a.protocol.Stop()
	defer b.protocol.Stop()

	payload := json.RawMessage(`{"memory":"first contact"}`)
	_, err = a.protocol.SendGossip(KindPush, TopicMemories, payload)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.JSONEq(t, string(payload), string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("push never reached peer")
	}
}

// TestPullRepliesWithState checks the pull -> direct state push exchange.
func TestPullRepliesWithState(t *testing.T) {
	ring := identity.NewKeyring()
	bus := transport.NewBus()

	a := newTestNode(t, "n1", ring)
	b := newTestNode(t, "n2", ring)

	stateSeen := make(chan json.RawMessage, 1)
	a.protocol.RegisterHandler(TopicState, func(sender string, data json.RawMessage) {
		if sender == "n2" {
			stateSeen <- data
		}
	})

	ctx := context.Background()
	epA, err := bus.Register("n1", func(from string, data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			a.protocol.ReceiveGossip(ctx, &msg)
		}
	})
	require.NoError(t, err)
	epB, err := bus.Register("n2", func(from string, data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			b.protocol.ReceiveGossip(ctx, &msg)
		}
	})
	require.NoError(t, err)
	a.protocol.Attach(epA)
	b.protocol.Attach(epB)
	a.protocol.AddPeer("n2", "n2")
	b.protocol.AddPeer("n1", "n1")

	pull := signedFrom(t, a, KindPull, "", nil, 1)
	require.True(t, b.protocol.ReceiveGossip(ctx, pull))

	select {
	case got := <-stateSeen:
		assert.JSONEq(t, `{"node":"n2"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("pull reply never arrived")
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	sent   int
	recv   int
	drops  map[string]int
	faults int
}

func (c *countingRecorder) RecordGossipMessage(direction, msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if direction == "sent" {
		c.sent++
	} else {
		c.recv++
	}
}

func (c *countingRecorder) RecordGossipDrop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drops == nil {
		c.drops = make(map[string]int)
	}
	c.drops[reason]++
}

func (c *countingRecorder) RecordByzantineFault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults++
}

func TestRecorderCountsTrafficAndDrops(t *testing.T) {
	ring := identity.NewKeyring()
	receiver := newTestNode(t, "n1", ring)
	sender := newTestNode(t, "n2", ring)

	rec := &countingRecorder{}
	receiver.protocol.SetRecorder(rec)

	msg := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"claim":"a"}`), 3)
	require.True(t, receiver.protocol.ReceiveGossip(context.Background(), msg))
	require.False(t, receiver.protocol.ReceiveGossip(context.Background(), msg))

	conflicting := signedFrom(t, sender, KindPush, TopicState, json.RawMessage(`{"claim":"b"}`), 3)
	require.False(t, receiver.protocol.ReceiveGossip(context.Background(), conflicting))

	assert.Equal(t, 1, rec.recv)
	assert.Equal(t, 1, rec.drops["duplicate"])
	assert.Equal(t, 1, rec.drops["equivocation"])
	assert.Equal(t, 1, rec.faults)

	_, err := receiver.protocol.SendGossip(KindPush, TopicState, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.sent)
}

func TestStartWithoutTransportFails(t *testing.T) {
	ring := identity.NewKeyring()
	n := newTestNode(t, "n1", ring)
	assert.Error(t, n.protocol.Start(context.Background()))
}

// TestReceiveDuringStopIsSafe hammers the receive path while the protocol
// shuts down: inbound pulls trigger reply sends, which must not race the
// shutdown wait or fire after Stop returns.
func TestReceiveDuringStopIsSafe(t *testing.T) {
	ring := identity.NewKeyring()
	bus := transport.NewBus()

	a := newTestNode(t, "n1", ring)
	b := newTestNode(t, "n2", ring)

	ctx := context.Background()
	epA, err := bus.Register("n1", func(string, []byte) {})
	require.NoError(t, err)
	epB, err := bus.Register("n2", func(from string, data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			b.protocol.ReceiveGossip(ctx, &msg)
		}
	})
	require.NoError(t, err)
	a.protocol.Attach(epA)
	b.protocol.Attach(epB)
	a.protocol.AddPeer("n2", "n2")
	b.protocol.AddPeer("n1", "n1")

	require.NoError(t, b.protocol.Start(ctx))

	pulls := make([]*Message, 50)
	for i := range pulls {
		pulls[i] = signedFrom(t, a, KindPull, "", nil, uint64(i+1))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, pull := range pulls {
			b.protocol.ReceiveGossip(ctx, pull)
		}
	}()

	b.protocol.Stop()
	<-done

	// Once Stop has returned, further receives must not launch sends.
	late := signedFrom(t, a, KindPull, "", nil, 99)
	assert.True(t, b.protocol.ReceiveGossip(ctx, late), "receive itself still processes")
}
