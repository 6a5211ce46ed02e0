// Package nonceledger provides the replay ledger: an atomic test-and-set of
// nonce usage scoped per owner. Storage follows the sparse nonceBitmap
// pattern (word = nonce >> 6, bit = nonce & 63); records are append-only
// and never deleted. An explicit pending state links nonce consumption to
// the transfer: pending counts as used for replay purposes but remains
// distinguishable for crash recovery and reconciliation.
package nonceledger

import (
	"fmt"
	"sync"
)

// Status of a single (owner, nonce) pair.
type Status int

const (
	StatusUnused Status = iota
	StatusPending
	StatusUsed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUsed:
		return "used"
	default:
		return "unused"
	}
}

// ownerState holds one owner's partition. Owners never contend with each
// other; the partition mutex covers only this owner's words and pending set.
type ownerState struct {
	mu      sync.Mutex
	words   map[uint64]uint64
	pending map[uint64]struct{}
}

// Bitmap is the in-memory ledger implementation. Safe for concurrent use
// by arbitrarily many settlement attempts; the only synchronization callers
// need is Reserve itself.
type Bitmap struct {
	mu     sync.RWMutex
	owners map[string]*ownerState
}

// NewBitmap creates an empty ledger.
func NewBitmap() *Bitmap {
	return &Bitmap{owners: make(map[string]*ownerState)}
}

func (b *Bitmap) owner(owner string) *ownerState {
	b.mu.RLock()
	state, ok := b.owners[owner]
	b.mu.RUnlock()
	if ok {
		return state
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok = b.owners[owner]; ok {
		return state
	}
	state = &ownerState{
		words:   make(map[uint64]uint64),
		pending: make(map[uint64]struct{}),
	}
	b.owners[owner] = state
	return state
}

func wordBit(nonce uint64) (word, bit uint64) {
	return nonce >> 6, uint64(1) << (nonce & 63)
}

// Reserve atomically checks and claims a nonce. Returns true if the nonce
// is already pending or used; otherwise marks it pending and returns false.
// Exactly one concurrent caller for a given (owner, nonce) observes false.
func (b *Bitmap) Reserve(owner string, nonce uint64) bool {
	state := b.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	word, bit := wordBit(nonce)
	if state.words[word]&bit != 0 {
		return true
	}
	if _, ok := state.pending[nonce]; ok {
		return true
	}
	state.pending[nonce] = struct{}{}
	return false
}

// Finalize commits a pending reservation into the used bitmap. No-op if the
// nonce is not pending.
func (b *Bitmap) Finalize(owner string, nonce uint64) {
	state := b.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.pending[nonce]; !ok {
		return
	}
	delete(state.pending, nonce)
	word, bit := wordBit(nonce)
	state.words[word] |= bit
}

// Release abandons a pending reservation, making the nonce reusable. No-op
// if the nonce is not pending; a finalized nonce can never be released.
func (b *Bitmap) Release(owner string, nonce uint64) {
	state := b.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()
	delete(state.pending, nonce)
}

// Used reports whether the nonce is consumed or reserved. Read-only.
func (b *Bitmap) Used(owner string, nonce uint64) bool {
	return b.Status(owner, nonce) != StatusUnused
}

// Status reports the exact state of a nonce. Read-only.
func (b *Bitmap) Status(owner string, nonce uint64) Status {
	b.mu.RLock()
	state, ok := b.owners[owner]
	b.mu.RUnlock()
	if !ok {
		return StatusUnused
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	word, bit := wordBit(nonce)
	if state.words[word]&bit != 0 {
		return StatusUsed
	}
	if _, pending := state.pending[nonce]; pending {
		return StatusPending
	}
	return StatusUnused
}

// Resolve reconciles a reservation left pending by an ambiguous transfer
// outcome: consumed=true finalizes it, consumed=false releases it. Returns
// an error if the nonce is not pending, so operators cannot accidentally
// rewrite settled history.
func (b *Bitmap) Resolve(owner string, nonce uint64, consumed bool) error {
	state := b.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.pending[nonce]; !ok {
		word, bit := wordBit(nonce)
		if state.words[word]&bit != 0 {
			return fmt.Errorf("nonce %d for %s already finalized", nonce, owner)
		}
		return fmt.Errorf("nonce %d for %s is not pending", nonce, owner)
	}

	delete(state.pending, nonce)
	if consumed {
		word, bit := wordBit(nonce)
		state.words[word] |= bit
	}
	return nil
}
