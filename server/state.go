package server

import (
	"context"
	"sync"
	"time"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/anchorstore"
	"github.com/openanchor/anchorsvc/archive"
	"github.com/openanchor/anchorsvc/challenge"
	"github.com/openanchor/anchorsvc/delegation"
	"github.com/openanchor/anchorsvc/pkg/crypto"
	"github.com/openanchor/anchorsvc/pkg/log"
	"github.com/openanchor/anchorsvc/principal"
	"github.com/openanchor/anchorsvc/ratelimit"
	"github.com/openanchor/anchorsvc/registration"
	"github.com/openanchor/anchorsvc/storage"
)

// State is the process-wide state singleton. A single mutex guards
// every component: each request handler acquires mu for the duration
// of its work, so a mutation and the checks that gate it always run
// without interleaving from another request.
type State struct {
	mu sync.Mutex

	anchors       *anchorstore.Store
	registrations map[anchor.Number]*registration.Registration
	challenges    *challenge.Store
	limiter       *ratelimit.Limiter
	sigMap        *delegation.SignatureMap
	engine        *delegation.Engine
	archive       *archive.Client

	now    func() time.Time
	logger log.Logger
}

// StateConfig gathers the already-constructed collaborators a State
// needs. Wiring them up (which PageStore backend, which archive
// endpoint) is cmd/anchorsvc's job.
type StateConfig struct {
	Pages       storage.PageStore
	AnchorRange anchorstore.Range
	ServiceID   []byte
	RateLimit   ratelimit.Config
	Archive     *archive.Client
	Logger      log.Logger
	Now         func() time.Time
}

// NewState builds a State ready to serve requests. The canister-wide
// salt is not initialized here: callers must invoke InitSalt (normally
// from the serve command's startup sequence) before any delegation
// operation will succeed.
func NewState(cfg StateConfig) *State {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sigMap := delegation.New()
	return &State{
		anchors:       anchorstore.New(cfg.Pages, cfg.AnchorRange),
		registrations: make(map[anchor.Number]*registration.Registration),
		challenges:    challenge.New(),
		limiter:       ratelimit.New(cfg.RateLimit, now),
		sigMap:        sigMap,
		engine:        delegation.NewEngine(cfg.ServiceID, sigMap, now),
		archive:       cfg.Archive,
		now:           now,
		logger:        cfg.Logger,
	}
}

// InitSalt lazily initializes the delegation engine's canister-wide
// salt from the platform RNG. Safe to call once; see
// delegation.Engine.InitSalt for the rollback discipline.
func (s *State) InitSalt() error {
	return s.engine.InitSalt(func() ([]byte, error) { return crypto.RandBytes(32) })
}

func (s *State) registrationFor(n anchor.Number) *registration.Registration {
	r, ok := s.registrations[n]
	if !ok {
		r = registration.New()
		s.registrations[n] = r
	}
	return r
}

// CreateChallenge mints a new CAPTCHA-style challenge.
func (s *State) CreateChallenge() (challenge.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges.Create()
}

// Register allocates a fresh anchor number, attaches device once the
// rate limiter and challenge both accept, and persists the new anchor.
func (s *State) Register(ctx context.Context, device anchor.Device, attempt challenge.Attempt) (anchor.Number, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(); err != nil {
		return 0, err
	}
	if !s.challenges.Check(attempt) {
		return 0, &challenge.BusyError{}
	}

	n, err := s.anchors.AllocateNew()
	if err != nil {
		return 0, err
	}
	a := anchor.New(n)
	if err := a.AddDevice(device); err != nil {
		return 0, err
	}
	if err := s.anchors.Write(ctx, a); err != nil {
		return 0, err
	}
	s.pushArchiveLocked(ctx, n, "register")
	return n, nil
}

// AddDevice appends device to anchor n. caller must be one of n's
// existing devices.
func (s *State) AddDevice(ctx context.Context, n anchor.Number, device anchor.Device, caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return err
	}
	if err := a.AddDevice(device); err != nil {
		return err
	}
	if err := s.anchors.Write(ctx, a); err != nil {
		return err
	}
	s.pushArchiveLocked(ctx, n, "add_device")
	return nil
}

// UpdateDevice replaces the device identified by key on anchor n.
func (s *State) UpdateDevice(ctx context.Context, n anchor.Number, key []byte, newDevice anchor.Device, caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return err
	}
	if err := a.ModifyDevice(key, newDevice, caller); err != nil {
		return err
	}
	if err := s.anchors.Write(ctx, a); err != nil {
		return err
	}
	s.pushArchiveLocked(ctx, n, "update_device")
	return nil
}

// RemoveDevice removes the device identified by key from anchor n.
func (s *State) RemoveDevice(ctx context.Context, n anchor.Number, key []byte, caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return err
	}
	if err := a.RemoveDevice(key, caller); err != nil {
		return err
	}
	if err := s.anchors.Write(ctx, a); err != nil {
		return err
	}
	s.pushArchiveLocked(ctx, n, "remove_device")
	return nil
}

// Lookup returns anchor n's devices without usage timestamps. Anon.
func (s *State) Lookup(ctx context.Context, n anchor.Number) ([]anchor.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return nil, err
	}
	return a.Devices(), nil
}

// AnchorInfo is the response payload for get_anchor_info: the full
// device list (with usage timestamps) plus tentative-registration
// state.
type AnchorInfo struct {
	Devices            []anchor.Device
	DeviceRegistration *DeviceRegistrationInfo
}

// DeviceRegistrationInfo summarizes in-progress tentative registration
// for an anchor, omitted entirely when idle.
type DeviceRegistrationInfo struct {
	Status    registration.Status
	ExpiresAt time.Time
}

// GetAnchorInfo returns anchor n's devices (with usage) and tentative
// registration state. caller must be one of n's devices.
func (s *State) GetAnchorInfo(ctx context.Context, n anchor.Number, caller principal.Principal) (AnchorInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return AnchorInfo{}, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return AnchorInfo{}, err
	}

	info := AnchorInfo{Devices: a.Devices()}
	if r, ok := s.registrations[n]; ok {
		now := s.now()
		if status := r.Status(now); status != registration.StatusIdle {
			info.DeviceRegistration = &DeviceRegistrationInfo{Status: status}
		}
	}
	return info, nil
}

// EnterDeviceRegistrationMode starts the tentative-device flow for n.
func (s *State) EnterDeviceRegistrationMode(ctx context.Context, n anchor.Number, caller principal.Principal) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return time.Time{}, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return time.Time{}, err
	}
	r := s.registrationFor(n)
	now := s.now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		return time.Time{}, err
	}
	return now.Add(registration.TTL), nil
}

// AddTentativeDevice records a candidate device for n. Anon: the whole
// point is to register from a second, unauthenticated channel.
func (s *State) AddTentativeDevice(ctx context.Context, n anchor.Number, device anchor.Device) (code string, expires time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.anchors.Read(ctx, n); err != nil {
		return "", time.Time{}, err
	}
	r := s.registrationFor(n)
	return r.AddTentativeDevice(device, s.now())
}

// VerifyTentativeDevice checks submitted against the pending code for
// n and, on success, commits the device via the full AddDevice path.
func (s *State) VerifyTentativeDevice(ctx context.Context, n anchor.Number, submitted string, caller principal.Principal) (registration.VerifyOutcome, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return 0, 0, err
	}

	r := s.registrationFor(n)
	outcome, device, retriesLeft, err := r.VerifyTentativeDevice(submitted, s.now())
	if err != nil {
		return 0, 0, err
	}
	if outcome != registration.VerifyOutcomeVerified {
		return outcome, retriesLeft, nil
	}

	if err := a.AddDevice(device); err != nil {
		return 0, 0, err
	}
	if err := s.anchors.Write(ctx, a); err != nil {
		return 0, 0, err
	}
	s.pushArchiveLocked(ctx, n, "verify_tentative_device")
	return outcome, 0, nil
}

// ExitDeviceRegistrationMode unconditionally returns n's registration
// state to Idle.
func (s *State) ExitDeviceRegistrationMode(ctx context.Context, n anchor.Number, caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return err
	}
	s.registrationFor(n).ExitDeviceRegistrationMode()
	return nil
}

// PrepareDelegation computes the user key for (n, frontend) and
// certifies a pending delegation for sessionKey.
func (s *State) PrepareDelegation(ctx context.Context, n anchor.Number, frontend string, sessionKey []byte, maxTTL *time.Duration, caller principal.Principal) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return nil, time.Time{}, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return nil, time.Time{}, err
	}
	return s.engine.PrepareDelegation(n, frontend, sessionKey, maxTTL)
}

// GetDelegation returns the signed delegation for a previously
// prepared (n, frontend, sessionKey, expiration).
func (s *State) GetDelegation(ctx context.Context, n anchor.Number, frontend string, sessionKey []byte, expiration time.Time, caller principal.Principal) (delegation.SignedDelegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return delegation.SignedDelegation{}, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return delegation.SignedDelegation{}, err
	}
	return s.engine.GetDelegation(n, frontend, sessionKey, expiration)
}

// GetPrincipal returns the DER-encoded user key for (n, frontend).
func (s *State) GetPrincipal(ctx context.Context, n anchor.Number, frontend string, caller principal.Principal) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.anchors.Read(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := requireAnchorDevice(a, caller); err != nil {
		return nil, err
	}
	return s.engine.GetPrincipal(n, frontend)
}

// Stats is the response payload for the stats endpoint.
type Stats struct {
	ArchiveOK    bool `json:"archive_ok"`
	ArchiveStale bool `json:"archive_stale"`
}

// Stats reports aggregated, anon-readable counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archive == nil {
		return Stats{ArchiveOK: true}
	}
	st := s.archive.Status()
	return Stats{ArchiveOK: st.OK, ArchiveStale: st.Stale}
}

// pushArchiveLocked fires an archive event for anchor n. Must be
// called with mu held. Archive delivery never fails the caller's
// request, so this starts the push and returns without waiting for
// completion.
func (s *State) pushArchiveLocked(ctx context.Context, n anchor.Number, op string) {
	if s.archive == nil {
		return
	}
	ev := archive.Event{AnchorNumber: uint64(n), Operation: op, Timestamp: s.now()}
	go s.archive.Push(context.Background(), ev)
}
