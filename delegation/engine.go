package delegation

import (
	"container/list"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/openanchor/anchorsvc/anchor"
)

const domainSeparator = "ic-request-auth-delegation"

// DefaultTTL is the delegation lifetime used when the caller supplies
// no max_ttl.
const DefaultTTL = 30 * time.Minute

// MaxLatestOrigins bounds the per-anchor set of frontends an anchor
// has recently delegated to; the oldest is evicted on overflow.
const MaxLatestOrigins = 1000

// canisterSignatureOID is the IC's canister-signature public key OID,
// kept as a literal here because this scheme has no registered IANA
// arc; any stable, unique OID works for our own verifier.
var canisterSignatureOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 56387, 1, 2}

// SaltNotInitializedError is returned by operations that need the
// canister-wide salt before it has been set.
type SaltNotInitializedError struct{}

func (e *SaltNotInitializedError) Error() string { return "salt not initialized" }

// SaltAlreadyInitializedError is returned by InitSalt on any call
// after the first successful one.
type SaltAlreadyInitializedError struct{}

func (e *SaltAlreadyInitializedError) Error() string { return "salt already initialized" }

// NotReadyError is returned by GetDelegation when the entry isn't
// present yet (unprepared, evicted, or not yet certified).
type NotReadyError struct{}

func (e *NotReadyError) Error() string { return "delegation not ready" }

// UnauthorizedError reports a caller principal that doesn't match any
// device on the anchor being acted on. Engine itself performs no caller
// checks and never returns it.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "unauthorized" }

// SignedDelegation is the response to a successful GetDelegation call.
type SignedDelegation struct {
	Pubkey     []byte
	Expiration time.Time
	Signature  []byte
}

// Engine derives per-(anchor, frontend) user keys and mints delegations
// against them, certified through a shared SignatureMap.
type Engine struct {
	mu          sync.Mutex
	serviceID   []byte
	salt        [32]byte
	saltIsSet   bool
	sigMap      *SignatureMap
	now         func() time.Time
	latestOrigin map[anchor.Number]*list.List
	latestIndex  map[anchor.Number]map[string]*list.Element
}

// NewEngine returns an Engine identified by serviceID (the analogue of
// a canister ID: it scopes every derived user key to this service
// instance) backed by sigMap.
func NewEngine(serviceID []byte, sigMap *SignatureMap, now func() time.Time) *Engine {
	return &Engine{
		serviceID:    serviceID,
		sigMap:       sigMap,
		now:          now,
		latestOrigin: make(map[anchor.Number]*list.List),
		latestIndex:  make(map[anchor.Number]map[string]*list.Element),
	}
}

// InitSalt sets the canister-wide salt from fetch, which must return
// 32 bytes of randomness. It may be called successfully only once; the
// salt is written only after fetch returns without error, so a failed
// RNG outcall leaves no partial state to roll back.
func (e *Engine) InitSalt(fetch func() ([]byte, error)) error {
	e.mu.Lock()
	if e.saltIsSet {
		e.mu.Unlock()
		return &SaltAlreadyInitializedError{}
	}
	e.mu.Unlock()

	raw, err := fetch()
	if err != nil {
		return fmt.Errorf("fetch salt randomness: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32 bytes of salt randomness, got %d", len(raw))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saltIsSet {
		return &SaltAlreadyInitializedError{}
	}
	copy(e.salt[:], raw)
	e.saltIsSet = true
	return nil
}

func (e *Engine) seed(a anchor.Number, frontend string) ([32]byte, error) {
	e.mu.Lock()
	salt := e.salt
	isSet := e.saltIsSet
	e.mu.Unlock()
	if !isSet {
		return [32]byte{}, &SaltNotInitializedError{}
	}

	h := sha256.New()
	h.Write([]byte(domainSeparator))
	var anchorBytes [8]byte
	binary.BigEndian.PutUint64(anchorBytes[:], uint64(a))
	h.Write(anchorBytes[:])
	h.Write([]byte(frontend))
	h.Write(salt[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// userKeyDER returns the DER-encoded canister-signature public key for
// a given seed: SEQUENCE{ SEQUENCE{ OID }, BIT STRING(raw) } where raw
// is len(serviceID) || serviceID || seed, the same two-part layout the
// IC canister-signature scheme uses to scope a key to both its issuing
// service and its per-identity seed.
func (e *Engine) userKeyDER(seed [32]byte) ([]byte, error) {
	raw := make([]byte, 0, 1+len(e.serviceID)+len(seed))
	raw = append(raw, byte(len(e.serviceID)))
	raw = append(raw, e.serviceID...)
	raw = append(raw, seed[:]...)

	type algorithmIdentifier struct {
		Algorithm asn1.ObjectIdentifier
	}
	type publicKeyInfo struct {
		Algorithm algorithmIdentifier
		PublicKey asn1.BitString
	}
	return asn1.Marshal(publicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: canisterSignatureOID},
		PublicKey: asn1.BitString{Bytes: raw, BitLength: len(raw) * 8},
	})
}

func messageHash(sessionKey []byte, expiration time.Time) Hash {
	h := sha256.New()
	h.Write([]byte(domainSeparator))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sessionKey)))
	h.Write(lenBuf[:])
	h.Write(sessionKey)
	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(expiration.UnixNano()))
	h.Write(expBuf[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// GetPrincipal returns the DER-encoded user key for (a, frontend).
func (e *Engine) GetPrincipal(a anchor.Number, frontend string) ([]byte, error) {
	seed, err := e.seed(a, frontend)
	if err != nil {
		return nil, err
	}
	return e.userKeyDER(seed)
}

// PrepareDelegation computes the user key for (a, frontend), inserts a
// certification entry for (session_key, expiration) into the shared
// SignatureMap, and records frontend in the anchor's recent-origin set.
// Calling it twice for the same (a, frontend, session_key, expiration)
// is idempotent: the SignatureMap entry is unchanged by the second
// call.
func (e *Engine) PrepareDelegation(a anchor.Number, frontend string, sessionKey []byte, maxTTL *time.Duration) ([]byte, time.Time, error) {
	seed, err := e.seed(a, frontend)
	if err != nil {
		return nil, time.Time{}, err
	}

	ttl := DefaultTTL
	if maxTTL != nil && *maxTTL < ttl {
		ttl = *maxTTL
	}
	expiration := e.now().Add(ttl)

	seedHash := hashBytes(seed[:])
	msgHash := messageHash(sessionKey, expiration)
	e.sigMap.Add(Key{SeedHash: seedHash, MessageHash: msgHash}, expiration)

	e.recordOrigin(a, frontend)

	userKey, err := e.userKeyDER(seed)
	if err != nil {
		return nil, time.Time{}, err
	}
	return userKey, expiration, nil
}

// GetDelegation returns the signed delegation for a previously
// prepared (a, frontend, session_key, expiration), or NotReadyError if
// no matching entry is certified yet.
func (e *Engine) GetDelegation(a anchor.Number, frontend string, sessionKey []byte, expiration time.Time) (SignedDelegation, error) {
	seed, err := e.seed(a, frontend)
	if err != nil {
		return SignedDelegation{}, err
	}

	seedHash := hashBytes(seed[:])
	msgHash := messageHash(sessionKey, expiration)
	key := Key{SeedHash: seedHash, MessageHash: msgHash}

	witness, ok := e.sigMap.Witness(key)
	if !ok {
		return SignedDelegation{}, &NotReadyError{}
	}

	root := e.sigMap.RootHash()
	sig := encodeSignature(root, witness)

	userKey, err := e.userKeyDER(seed)
	if err != nil {
		return SignedDelegation{}, err
	}
	return SignedDelegation{Pubkey: userKey, Expiration: expiration, Signature: sig}, nil
}

// encodeSignature packages the root hash and witness path into the
// bytes a verifier needs to recompute the root and compare, standing
// in for the certificate + hash-tree witness concatenation the host
// runtime would produce.
func encodeSignature(root Hash, w Witness) []byte {
	buf := make([]byte, 0, 32+len(w.Path)*33)
	buf = append(buf, root[:]...)
	for _, step := range w.Path {
		flag := byte(0)
		if step.LeafIsRight {
			flag = 1
		}
		buf = append(buf, flag)
		buf = append(buf, step.Sibling[:]...)
	}
	return buf
}

func (e *Engine) recordOrigin(a anchor.Number, frontend string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	origins, ok := e.latestOrigin[a]
	if !ok {
		origins = list.New()
		e.latestOrigin[a] = origins
		e.latestIndex[a] = make(map[string]*list.Element)
	}
	index := e.latestIndex[a]

	if el, exists := index[frontend]; exists {
		origins.MoveToFront(el)
		return
	}

	el := origins.PushFront(frontend)
	index[frontend] = el

	if origins.Len() > MaxLatestOrigins {
		oldest := origins.Back()
		origins.Remove(oldest)
		delete(index, oldest.Value.(string))
	}
}

// LatestOrigins returns the anchor's recently delegated-to frontends,
// most recent first.
func (e *Engine) LatestOrigins(a anchor.Number) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	origins, ok := e.latestOrigin[a]
	if !ok {
		return nil
	}
	out := make([]string, 0, origins.Len())
	for el := origins.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
