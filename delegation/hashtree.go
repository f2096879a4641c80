// Package delegation implements the SignatureMap labeled hash tree and
// the DelegationEngine that mints and certifies session delegations.
//
// No example in the retrieved corpus implements a canister-signature
// style certified hash tree; it's a host-specific cryptographic
// primitive with no off-the-shelf Go library. It's built here directly
// on crypto/sha256, in the spirit of storage/memory.go's hand-rolled,
// mutex-guarded in-memory structure.
package delegation

import (
	"crypto/sha256"
	"sort"
	"sync"
	"time"
)

// MaxEntries bounds the SignatureMap; the smallest-expiration entry is
// evicted to make room for a new one past this size.
const MaxEntries = 1000

// MaxDeletePerCall bounds how many expired entries DeleteExpired
// removes in a single call.
const MaxDeletePerCall = 10

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

func hashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

// Key identifies one signature-map entry.
type Key struct {
	SeedHash    Hash
	MessageHash Hash
}

func (k Key) less(other Key) bool {
	if c := compareHash(k.SeedHash, other.SeedHash); c != 0 {
		return c < 0
	}
	return compareHash(k.MessageHash, other.MessageHash) < 0
}

func compareHash(a, b Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func leafHash(k Key) Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, k.SeedHash[:]...)
	buf = append(buf, k.MessageHash[:]...)
	return hashBytes(buf)
}

// Witness proves that a (seed_hash, message_hash) pair is present in
// the tree that produced a given root: the sibling hash at each level
// from leaf to root, and whether the leaf is the left or right child
// at that level.
type Witness struct {
	Leaf    Hash
	Path    []WitnessStep
	RootHas bool
}

// WitnessStep is one sibling hash on the path from a leaf to the root.
type WitnessStep struct {
	Sibling   Hash
	LeafIsRight bool
}

// SignatureMap is a map from key to expiration paired with a Merkle
// commitment over its key set. Entries are not kept sorted by
// expiration; eviction and expiry scan the whole map.
type SignatureMap struct {
	mu      sync.Mutex
	entries map[Key]time.Time
}

// New returns an empty SignatureMap.
func New() *SignatureMap {
	return &SignatureMap{entries: make(map[Key]time.Time)}
}

// Add inserts or updates the entry for key, evicting the
// smallest-expiration entry first if the map is already at MaxEntries.
// Returns the previous expiration, if any.
func (m *SignatureMap) Add(key Key, expiration time.Time) (prior time.Time, hadPrior bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.entries[key]; ok {
		m.entries[key] = expiration
		return prev, true
	}

	if len(m.entries) >= MaxEntries {
		m.evictSmallestLocked()
	}
	m.entries[key] = expiration
	return time.Time{}, false
}

func (m *SignatureMap) evictSmallestLocked() {
	var victim Key
	var smallest time.Time
	first := true
	for k, exp := range m.entries {
		if first || exp.Before(smallest) {
			victim = k
			smallest = exp
			first = false
		}
	}
	if !first {
		delete(m.entries, victim)
	}
}

// DeleteExpired removes entries with expiration at or before now, up
// to MaxDeletePerCall per call, and returns the number removed.
func (m *SignatureMap) DeleteExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, exp := range m.entries {
		if removed >= MaxDeletePerCall {
			break
		}
		if !exp.After(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Has reports whether key is present, regardless of expiration. Expiry
// enforcement for delegation lookups is the caller's responsibility;
// the map itself is a pure presence commitment plus a staleness
// bookkeeping field.
func (m *SignatureMap) Has(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *SignatureMap) sortedKeysLocked() []Key {
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// RootHash returns the Merkle root over the current key set. Two maps
// holding the same multiset of (seed_hash, message_hash) pairs always
// produce the same root, regardless of insertion order or expiration
// values (expiration is not part of the commitment).
func (m *SignatureMap) RootHash() Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.sortedKeysLocked()
	leaves := make([]Hash, len(keys))
	for i, k := range keys {
		leaves[i] = leafHash(k)
	}
	root, _ := merkleTree(leaves)
	return root
}

// Witness returns a proof that key is present in the current tree, or
// ok=false if it is not.
func (m *SignatureMap) Witness(key Key) (Witness, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.sortedKeysLocked()
	idx := -1
	for i, k := range keys {
		if k == key {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Witness{}, false
	}

	leaves := make([]Hash, len(keys))
	for i, k := range keys {
		leaves[i] = leafHash(k)
	}
	_, levels := merkleTree(leaves)

	w := Witness{Leaf: leaves[idx], RootHas: true}
	pos := idx
	for _, level := range levels[:len(levels)-1] {
		isRight := pos%2 == 1
		var siblingPos int
		if isRight {
			siblingPos = pos - 1
		} else {
			siblingPos = pos + 1
		}
		var sibling Hash
		if siblingPos < len(level) {
			sibling = level[siblingPos]
		} else {
			sibling = level[pos] // odd level: duplicate self
		}
		w.Path = append(w.Path, WitnessStep{Sibling: sibling, LeafIsRight: isRight})
		pos /= 2
	}
	return w, true
}

// VerifyWitness recomputes the root implied by w and key, reporting
// whether it equals root.
func VerifyWitness(key Key, w Witness, root Hash) bool {
	h := leafHash(key)
	if h != w.Leaf {
		return false
	}
	cur := h
	for _, step := range w.Path {
		var buf [64]byte
		if step.LeafIsRight {
			copy(buf[:32], step.Sibling[:])
			copy(buf[32:], cur[:])
		} else {
			copy(buf[:32], cur[:])
			copy(buf[32:], step.Sibling[:])
		}
		cur = hashBytes(buf[:])
	}
	return cur == root
}

// merkleTree builds a bottom-up binary Merkle tree over leaves (sorted
// order is the caller's responsibility) and returns the root plus
// every level, leaves first, for witness construction. An odd node at
// a level is paired with itself, matching a standard Merkle-tree
// convention.
func merkleTree(leaves []Hash) (Hash, [][]Hash) {
	if len(leaves) == 0 {
		return Hash{}, [][]Hash{{}}
	}

	levels := [][]Hash{leaves}
	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var buf [64]byte
			copy(buf[:32], level[i][:])
			if i+1 < len(level) {
				copy(buf[32:], level[i+1][:])
			} else {
				copy(buf[32:], level[i][:])
			}
			next = append(next, hashBytes(buf[:]))
		}
		levels = append(levels, next)
		level = next
	}
	return level[0], levels
}
