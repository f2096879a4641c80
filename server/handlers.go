package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/challenge"
	phttp "github.com/openanchor/anchorsvc/pkg/http"
	"github.com/openanchor/anchorsvc/registration"
)

func anchorNumberFromPath(r *http.Request) (anchor.Number, bool) {
	raw := mux.Vars(r)["anchor"]
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return anchor.Number(n), true
}

func decodePubkeyFromPath(r *http.Request) ([]byte, bool) {
	raw := mux.Vars(r)["pubkey"]
	key, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, false
	}
	return key, true
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (srv *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := srv.state.CreateChallenge()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		Key       string `json:"key"`
		PNGBase64 string `json:"png_base64"`
	}{Key: ch.Key, PNGBase64: ch.PNGBase64})
}

type registerRequest struct {
	Device         deviceJSON `json:"device"`
	ChallengeKey   string     `json:"challenge_key"`
	ChallengeChars string     `json:"challenge_chars"`
}

func (srv *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	device, err := req.Device.toDevice()
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := srv.state.Register(r.Context(), device, challenge.Attempt{
		Key:   req.ChallengeKey,
		Chars: req.ChallengeChars,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		AnchorNumber uint64 `json:"anchor_number"`
	}{AnchorNumber: uint64(n)})
}

func (srv *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req deviceJSON
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	device, err := req.toDevice()
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := srv.state.AddDevice(r.Context(), n, device, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	key, ok := decodePubkeyFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid device key")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req deviceJSON
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	newDevice, err := req.toDevice()
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := srv.state.UpdateDevice(r.Context(), n, key, newDevice, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	key, ok := decodePubkeyFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid device key")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := srv.state.RemoveDevice(r.Context(), n, key, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	devices, err := srv.state.Lookup(r.Context(), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, fromDevices(devices, false))
}

func (srv *Server) handleGetAnchorInfo(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	info, err := srv.state.GetAnchorInfo(r.Context(), n, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Devices            []deviceJSON `json:"devices"`
		DeviceRegistration *struct {
			Status    string `json:"status"`
			ExpiresAt string `json:"expires_at,omitempty"`
		} `json:"device_registration,omitempty"`
	}{Devices: fromDevices(info.Devices, true)}

	if info.DeviceRegistration != nil {
		resp.DeviceRegistration = &struct {
			Status    string `json:"status"`
			ExpiresAt string `json:"expires_at,omitempty"`
		}{
			Status:    registrationStatusName(info.DeviceRegistration.Status),
			ExpiresAt: info.DeviceRegistration.ExpiresAt.Format(time.RFC3339),
		}
	}
	phttp.WriteJSON(w, http.StatusOK, resp)
}

func registrationStatusName(s registration.Status) string {
	switch s {
	case registration.StatusModeActive:
		return "mode_active"
	case registration.StatusTentativelyAdded:
		return "tentatively_added"
	default:
		return "idle"
	}
}

func (srv *Server) handleEnterDeviceRegistrationMode(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	expires, err := srv.state.EnterDeviceRegistrationMode(r.Context(), n, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		ExpiresAt time.Time `json:"expires_at"`
	}{ExpiresAt: expires})
}

func (srv *Server) handleAddTentativeDevice(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	var req deviceJSON
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	device, err := req.toDevice()
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	code, expires, err := srv.state.AddTentativeDevice(r.Context(), n, device)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		Code      string    `json:"verification_code"`
		ExpiresAt time.Time `json:"expires_at"`
	}{Code: code, ExpiresAt: expires})
}

func (srv *Server) handleVerifyTentativeDevice(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	outcome, retriesLeft, err := srv.state.VerifyTentativeDevice(r.Context(), n, req.Code, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Outcome     string `json:"outcome"`
		RetriesLeft int    `json:"retries_left,omitempty"`
	}{}
	switch outcome {
	case registration.VerifyOutcomeVerified:
		resp.Outcome = "verified"
	case registration.VerifyOutcomeWrongCode:
		resp.Outcome = "wrong_code"
		resp.RetriesLeft = retriesLeft
	case registration.VerifyOutcomeNoRegistrationMode:
		resp.Outcome = "no_registration_mode"
	case registration.VerifyOutcomeExpired:
		resp.Outcome = "expired"
	}
	phttp.WriteJSON(w, http.StatusOK, resp)
}

func (srv *Server) handleExitDeviceRegistrationMode(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := srv.state.ExitDeviceRegistrationMode(r.Context(), n, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type prepareDelegationRequest struct {
	Frontend    string `json:"frontend"`
	SessionKey  string `json:"session_key"`
	MaxTTLNanos *int64 `json:"max_ttl_nanos,omitempty"`
}

func (srv *Server) handlePrepareDelegation(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req prepareDelegationRequest
	if err := decodeJSON(r, &req); err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	sessionKey, err := base64.StdEncoding.DecodeString(req.SessionKey)
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "invalid session_key encoding")
		return
	}
	var maxTTL *time.Duration
	if req.MaxTTLNanos != nil {
		d := time.Duration(*req.MaxTTLNanos)
		maxTTL = &d
	}

	userKey, expiration, err := srv.state.PrepareDelegation(r.Context(), n, req.Frontend, sessionKey, maxTTL, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		UserKey    string    `json:"user_key"`
		Expiration time.Time `json:"expiration"`
	}{UserKey: base64.StdEncoding.EncodeToString(userKey), Expiration: expiration})
}

func (srv *Server) handleGetDelegation(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	q := r.URL.Query()
	sessionKey, err := base64.StdEncoding.DecodeString(q.Get("session_key"))
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "invalid session_key encoding")
		return
	}
	expNanos, err := strconv.ParseInt(q.Get("expiration"), 10, 64)
	if err != nil {
		phttp.WriteError(w, http.StatusBadRequest, "invalid expiration")
		return
	}
	expiration := time.Unix(0, expNanos)

	delegation, err := srv.state.GetDelegation(r.Context(), n, q.Get("frontend"), sessionKey, expiration, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		Pubkey     string    `json:"pubkey"`
		Expiration time.Time `json:"expiration"`
		Signature  string    `json:"signature"`
	}{
		Pubkey:     base64.StdEncoding.EncodeToString(delegation.Pubkey),
		Expiration: delegation.Expiration,
		Signature:  base64.StdEncoding.EncodeToString(delegation.Signature),
	})
}

func (srv *Server) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	n, ok := anchorNumberFromPath(r)
	if !ok {
		phttp.WriteError(w, http.StatusBadRequest, "invalid anchor number")
		return
	}
	caller, err := callerPrincipal(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	userKey, err := srv.state.GetPrincipal(r.Context(), n, r.URL.Query().Get("frontend"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	phttp.WriteJSON(w, http.StatusOK, struct {
		Principal string `json:"principal"`
	}{Principal: base64.StdEncoding.EncodeToString(userKey)})
}

func (srv *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	phttp.WriteJSON(w, http.StatusOK, srv.state.Stats())
}
