// Package gossip implements epidemic dissemination between swarm members:
// a peer table with liveness tracking, signed push/pull/ack/digest
// messages, and idempotent receipt with Byzantine-fault screening.
//
// The receive path never returns an error for a bad message. Unverifiable
// or equivocating traffic is dropped quietly, and no nack goes back to
// the sender, so an adversary learns nothing about what was filtered.
package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/byzantine"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/clock"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/transport"
)

var (
	// ErrNotStarted is returned for operations that need the running
	// dissemination loops.
	ErrNotStarted = errors.New("gossip: protocol not started")

	// ErrSelfVerification is returned when a freshly signed message does
	// not verify against our own key, which means the local identity is
	// misconfigured.
	ErrSelfVerification = errors.New("gossip: self-signed message failed verification")
)

// Signer signs outbound message bytes.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
}

// Verifier checks a signature against a sender's registered key. False
// covers both a bad signature and an unknown sender.
type Verifier interface {
	Verify(senderID string, payload, signature []byte) bool
}

// Hasher produces the content digest used for equivocation comparison.
type Hasher func(payload []byte) string

// StateProvider supplies the local state for pull responses and
// anti-entropy digests.
type StateProvider interface {
	Snapshot() (json.RawMessage, error)
	Digest() (string, error)
}

// Handler consumes the payload of one delivered push message.
type Handler func(senderID string, data json.RawMessage)

// Recorder receives traffic counts for metrics. All methods must be safe
// for concurrent use.
type Recorder interface {
	RecordGossipMessage(direction, msgType string)
	RecordGossipDrop(reason string)
	RecordByzantineFault()
}

// Protocol is one node's gossip engine.
type Protocol struct {
	cfg    config.GossipConfig
	nodeID string

	clockMu sync.Mutex
	clock   *clock.Vector

	peers *peerTable
	tr    transport.Transport

	signer   Signer
	verifier Verifier
	hasher   Hasher
	state    StateProvider

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	outbox chan *Message

	seenMu sync.Mutex
	seen   map[string]time.Time

	faultMu sync.Mutex
	rounds  map[string]map[uint64]string
	faults  []byzantine.Event

	sem *semaphore.Weighted
	rec Recorder
	log *logrus.Entry

	// Send goroutines get their own WaitGroup; the transport callback can
	// trigger sends at any time, so adds are gated on draining instead of
	// sharing the loop WaitGroup.
	sendMu   sync.Mutex
	sendWg   sync.WaitGroup
	draining bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a protocol instance. The transport is set later via
// Attach, since the transport itself needs the receive callback.
func New(nodeID string, cfg config.GossipConfig, signer Signer, verifier Verifier, hasher Hasher, state StateProvider) *Protocol {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Protocol{
		cfg:      cfg,
		nodeID:   nodeID,
		clock:    clock.NewVector(nodeID),
		peers:    newPeerTable(),
		signer:   signer,
		verifier: verifier,
		hasher:   hasher,
		state:    state,
		handlers: make(map[string]Handler),
		outbox:   make(chan *Message, 256),
		seen:     make(map[string]time.Time),
		rounds:   make(map[string]map[uint64]string),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      logger.NewForNode(nodeID, "gossip"),
	}
}

// Attach wires the transport used for outbound sends.
func (p *Protocol) Attach(tr transport.Transport) {
	p.tr = tr
}

// SetRecorder installs a metrics sink. Optional; nil means no recording.
func (p *Protocol) SetRecorder(rec Recorder) {
	p.rec = rec
}

func (p *Protocol) recordMessage(direction string, msgType Kind) {
	if p.rec != nil {
		p.rec.RecordGossipMessage(direction, string(msgType))
	}
}

func (p *Protocol) recordDrop(reason string) {
	if p.rec != nil {
		p.rec.RecordGossipDrop(reason)
	}
}

// RegisterHandler installs the consumer for one payload topic.
func (p *Protocol) RegisterHandler(topic string, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[topic] = h
}

// AddPeer registers a remote member.
func (p *Protocol) AddPeer(id, address string) {
	if id == p.nodeID {
		return
	}
	p.peers.add(id, address)
	p.log.WithFields(logrus.Fields{"peer": id, "address": address}).Info("Peer added")
}

// RemovePeer drops a remote member. Returns whether it was known.
func (p *Protocol) RemovePeer(id string) bool {
	removed := p.peers.remove(id)
	if removed {
		p.log.WithField("peer", id).Info("Peer removed")
	}
	return removed
}

// Peers returns a snapshot of the peer table.
func (p *Protocol) Peers() []Peer {
	return p.peers.snapshot()
}

// GetPeer returns one peer's current view.
func (p *Protocol) GetPeer(id string) (Peer, bool) {
	return p.peers.get(id)
}

// Clock returns a copy of the local vector clock.
func (p *Protocol) Clock() *clock.Vector {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	return p.clock.Clone()
}

// Faults returns the Byzantine events observed so far, for reporting.
func (p *Protocol) Faults() []byzantine.Event {
	p.faultMu.Lock()
	defer p.faultMu.Unlock()
	out := make([]byzantine.Event, len(p.faults))
	copy(out, p.faults)
	return out
}

// SendGossip ticks the clock, signs a message for the topic, verifies the
// signature against our own key, and queues it for dissemination. It
// never sends synchronously to all peers.
func (p *Protocol) SendGossip(kind Kind, topic string, data json.RawMessage) (*Message, error) {
	p.clockMu.Lock()
	p.clock.Tick()
	entries := p.clock.Entries()
	p.clockMu.Unlock()

	msg := newMessage(kind, p.nodeID, entries, Payload{Topic: topic, Data: data}, p.cfg.TTL)
	if err := p.sign(msg); err != nil {
		return nil, err
	}

	// Our own messages count as seen so a forwarded copy that loops
	// back is not reprocessed.
	p.markSeen(msg.ID)
	if kind == KindPush {
		p.recordRound(msg)
	}
	p.enqueue(msg)
	p.recordMessage("sent", kind)
	return msg, nil
}

func (p *Protocol) sign(msg *Message) error {
	payload, err := msg.signingBytes()
	if err != nil {
		return err
	}
	sig, err := p.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	msg.Signature = sig
	if !p.verifier.Verify(p.nodeID, payload, sig) {
		return ErrSelfVerification
	}
	return nil
}

func (p *Protocol) enqueue(msg *Message) {
	select {
	case p.outbox <- msg:
	default:
		p.log.WithField("msg_id", msg.ID).Warn("Outbox full, message dropped")
	}
}

// ReceiveGossip processes one inbound message. It returns true when the
// message changed local state and false when it was dropped: expired,
// already seen, unverifiable, or equivocating. Drops are silent on the
// wire.
func (p *Protocol) ReceiveGossip(ctx context.Context, msg *Message) bool {
	if msg == nil || msg.TTL <= 0 {
		p.recordDrop("expired")
		return false
	}
	if p.hasSeen(msg.ID) {
		p.recordDrop("duplicate")
		return false
	}

	payload, err := msg.signingBytes()
	if err != nil {
		p.recordDrop("malformed")
		return false
	}
	if !p.verifier.Verify(msg.SenderID, payload, msg.Signature) {
		p.log.WithFields(logrus.Fields{"msg_id": msg.ID, "sender": msg.SenderID}).Warn("Signature verification failed, message dropped")
		p.recordDrop("signature")
		return false
	}
	// Equivocation is judged on payload-carrying pushes only: two
	// different payloads claimed for the same logical round.
	if msg.Type == KindPush {
		if p.isEquivocation(msg) {
			p.log.WithFields(logrus.Fields{"sender": msg.SenderID, "round": msg.round()}).Warn("Equivocation detected, message dropped")
			p.recordDrop("equivocation")
			if p.rec != nil {
				p.rec.RecordByzantineFault()
			}
			return false
		}
		p.recordRound(msg)
	}

	p.markSeen(msg.ID)

	p.clockMu.Lock()
	p.clock.Merge(clock.FromEntries(msg.SenderID, msg.VectorClock))
	p.clockMu.Unlock()

	p.peers.markContact(msg.SenderID)

	switch msg.Type {
	case KindPush:
		p.dispatch(msg)
		p.ackTo(ctx, msg)
		if msg.TTL > 1 {
			forward := *msg
			forward.TTL--
			p.enqueue(&forward)
		}
	case KindPull:
		p.replyWithState(ctx, msg.SenderID)
	case KindAck:
		// contact already recorded
	case KindDigest:
		p.compareDigest(ctx, msg)
	default:
		p.log.WithField("type", string(msg.Type)).Debug("Unknown message type ignored")
	}
	p.recordMessage("received", msg.Type)
	return true
}

func (p *Protocol) dispatch(msg *Message) {
	p.handlersMu.RLock()
	h, ok := p.handlers[msg.Payload.Topic]
	p.handlersMu.RUnlock()
	if !ok {
		p.log.WithField("topic", msg.Payload.Topic).Debug("No handler for topic")
		return
	}
	h(msg.SenderID, msg.Payload.Data)
}

// isEquivocation reports whether the sender already produced a different
// payload hash for the same logical round (its own clock entry). The
// offending event is recorded for fault reporting.
func (p *Protocol) isEquivocation(msg *Message) bool {
	hash := p.hasher(msg.Payload.Data)
	round := msg.round()

	p.faultMu.Lock()
	defer p.faultMu.Unlock()

	byRound, ok := p.rounds[msg.SenderID]
	if !ok {
		return false
	}
	prev, ok := byRound[round]
	if !ok || prev == hash {
		return false
	}
	p.faults = append(p.faults,
		byzantine.Event{SenderID: msg.SenderID, Round: round, Hash: prev},
		byzantine.Event{SenderID: msg.SenderID, Round: round, Hash: hash},
	)
	return true
}

func (p *Protocol) recordRound(msg *Message) {
	hash := p.hasher(msg.Payload.Data)
	p.faultMu.Lock()
	defer p.faultMu.Unlock()
	byRound, ok := p.rounds[msg.SenderID]
	if !ok {
		byRound = make(map[uint64]string)
		p.rounds[msg.SenderID] = byRound
	}
	byRound[msg.round()] = hash
}

func (p *Protocol) hasSeen(id string) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	_, ok := p.seen[id]
	return ok
}

func (p *Protocol) markSeen(id string) {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	p.seen[id] = time.Now()
}

func (p *Protocol) expireSeen() {
	cutoff := time.Now().Add(-p.cfg.SeenExpiry)
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	for id, at := range p.seen {
		if at.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}

// ackTo sends a direct non-forwarded acknowledgment for a push.
func (p *Protocol) ackTo(ctx context.Context, msg *Message) {
	peer, ok := p.peers.get(msg.SenderID)
	if !ok {
		return
	}
	ack := newMessage(KindAck, p.nodeID, p.Clock().Entries(), Payload{}, 1)
	if err := p.sign(ack); err != nil {
		p.log.WithError(err).Warn("Failed to sign ack")
		return
	}
	p.sendTo(ctx, peer, ack)
}

// replyWithState answers a pull with a direct state push.
func (p *Protocol) replyWithState(ctx context.Context, senderID string) {
	peer, ok := p.peers.get(senderID)
	if !ok {
		return
	}
	snapshot, err := p.state.Snapshot()
	if err != nil {
		p.log.WithError(err).Warn("Failed to snapshot state for pull reply")
		return
	}
	reply := newMessage(KindPush, p.nodeID, p.Clock().Entries(), Payload{Topic: TopicState, Data: snapshot}, 1)
	if err := p.sign(reply); err != nil {
		p.log.WithError(err).Warn("Failed to sign pull reply")
		return
	}
	p.markSeen(reply.ID)
	p.sendTo(ctx, peer, reply)
}

// compareDigest requests full state when a peer's digest differs from
// ours.
func (p *Protocol) compareDigest(ctx context.Context, msg *Message) {
	var theirs string
	if err := json.Unmarshal(msg.Payload.Data, &theirs); err != nil {
		return
	}
	ours, err := p.state.Digest()
	if err != nil || ours == theirs {
		return
	}
	peer, ok := p.peers.get(msg.SenderID)
	if !ok {
		return
	}
	pull := newMessage(KindPull, p.nodeID, p.Clock().Entries(), Payload{}, 1)
	if err := p.sign(pull); err != nil {
		return
	}
	p.markSeen(pull.ID)
	p.sendTo(ctx, peer, pull)
}

// sendTo delivers one message to one peer under the send semaphore. The
// WaitGroup add is gated on the started flag so a message arriving over
// the transport callback during Stop cannot race wg.Wait.
func (p *Protocol) sendTo(ctx context.Context, peer Peer, msg *Message) {
	if p.tr == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.WithError(err).Error("Failed to encode message")
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	p.sendMu.Lock()
	if p.draining {
		p.sendMu.Unlock()
		p.sem.Release(1)
		return
	}
	p.sendWg.Add(1)
	p.sendMu.Unlock()
	go func() {
		defer p.sendWg.Done()
		defer p.sem.Release(1)
		if err := p.tr.Send(ctx, peer.Address, data); err != nil {
			p.peers.markFailure(peer.ID)
			p.log.WithError(err).WithField("peer", peer.ID).Debug("Send failed")
			return
		}
		p.peers.markContact(peer.ID)
	}()
}

// disseminate fans one message out to a random sample of active peers,
// never including its original sender or ourselves.
func (p *Protocol) disseminate(ctx context.Context, msg *Message) {
	targets := p.peers.selectFanout(p.cfg.Fanout, msg.SenderID, p.nodeID)
	for _, peer := range targets {
		p.sendTo(ctx, peer, msg)
	}
}

// Start launches the dissemination, liveness, seen-expiry, and
// anti-entropy loops.
func (p *Protocol) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.started {
		return nil
	}
	if p.tr == nil {
		return errors.New("gossip: no transport attached")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	p.sendMu.Lock()
	p.draining = false
	p.sendMu.Unlock()

	p.wg.Add(3)
	go p.dispatchLoop(runCtx)
	go p.livenessLoop(runCtx)
	go p.antiEntropyLoop(runCtx)

	p.log.Info("Gossip protocol started")
	return nil
}

// Stop cancels the loops and waits for in-flight sends to finish. Unacked
// messages stay unacked; idempotent delivery tolerates that.
func (p *Protocol) Stop() {
	p.runMu.Lock()
	if !p.started {
		p.runMu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.runMu.Unlock()

	cancel()
	p.wg.Wait()

	p.sendMu.Lock()
	p.draining = true
	p.sendMu.Unlock()
	p.sendWg.Wait()

	p.log.Info("Gossip protocol stopped")
}

func (p *Protocol) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOutbox(ctx)
		}
	}
}

func (p *Protocol) drainOutbox(ctx context.Context) {
	for {
		select {
		case msg := <-p.outbox:
			p.disseminate(ctx, msg)
		default:
			return
		}
	}
}

func (p *Protocol) livenessLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SuspectTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range p.peers.sweep(p.cfg.SuspectTimeout, p.cfg.DeadTimeout) {
				if peer, ok := p.peers.get(id); ok {
					p.log.WithFields(logrus.Fields{"peer": id, "status": string(peer.Status)}).Info("Peer status changed")
				}
			}
			p.expireSeen()
		}
	}
}

// antiEntropyLoop periodically exchanges digests with one random peer so
// state missed by epidemic rounds still converges.
func (p *Protocol) antiEntropyLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.AntiEntropyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendDigest(ctx)
		}
	}
}

func (p *Protocol) sendDigest(ctx context.Context) {
	targets := p.peers.selectFanout(1, p.nodeID)
	if len(targets) == 0 {
		return
	}
	digest, err := p.state.Digest()
	if err != nil {
		p.log.WithError(err).Warn("Failed to compute state digest")
		return
	}
	data, err := json.Marshal(digest)
	if err != nil {
		return
	}
	msg := newMessage(KindDigest, p.nodeID, p.Clock().Entries(), Payload{Topic: TopicState, Data: data}, 1)
	if err := p.sign(msg); err != nil {
		return
	}
	p.markSeen(msg.ID)
	p.sendTo(ctx, targets[0], msg)
}
