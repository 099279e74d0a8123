// Package identity supplies the concrete crypto behind the boundary the
// sync core consumes: ed25519 message signatures and sha256 content
// hashes. Nothing outside this package names an algorithm; gossip and
// voting only see the Signer/Verifier/Hasher interfaces they declare.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Identity is one node's signing keypair.
type Identity struct {
	nodeID string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// New generates a fresh keypair for a node.
func New(nodeID string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{nodeID: nodeID, priv: priv, pub: pub}, nil
}

// NodeID returns the node this identity signs for.
func (i *Identity) NodeID() string {
	return i.nodeID
}

// PublicKey returns the verification key to register with peers.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// Sign signs a payload.
func (i *Identity) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(i.priv, payload), nil
}

// Keyring maps node ids to their registered public keys and verifies
// signatures against them. Safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// Register stores a node's public key, replacing any previous one.
func (k *Keyring) Register(nodeID string, key ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[nodeID] = key
}

// Remove forgets a node's key.
func (k *Keyring) Remove(nodeID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, nodeID)
}

// Verify checks a signature against the sender's registered key. An
// unknown sender verifies false rather than erroring, matching the
// drop-quietly policy of the layers above.
func (k *Keyring) Verify(senderID string, payload, signature []byte) bool {
	k.mu.RLock()
	key, ok := k.keys[senderID]
	k.mu.RUnlock()
	if !ok || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, payload, signature)
}

// ContentHash returns the hex sha256 digest of a payload, used for
// equivocation comparison.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
