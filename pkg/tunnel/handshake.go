// handshake.go implements the hybrid handshake state machine.
//
// Handshake Protocol:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- ClientHello --------------> |
//	    |   - version, random, cipher suites   |
//	    |   - supported groups, mode           |
//	    |                                      |
//	    | <------- ServerHello --------------- |
//	    |   - selected algorithms, suite       |
//	    |   - session id                       |
//	    | <------- KeyShare ------------------ |
//	    |   - one public key per primitive     |
//	    |                                      |
//	    | -------- KeyShare -----------------> |
//	    |   - DH public keys, KEM ciphertexts  |
//	    |                                      |
//	    |   [Both combine secrets in order]    |
//	    |                                      |
//	    | <------- Finished ------------------ |
//	    |   - verify_data, certificate?        |
//	    | -------- Finished -----------------> |
//	    |   - verify_data                      |
//	    |                                      |
//	    |    === Session Established ===       |
//
// The master secret and the server's verify_data are bound to the transcript
// through both KeyShares. The client's verify_data also covers the server's
// Finished.
package tunnel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/identity"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// HandshakeState represents the current state of the handshake.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateHelloSent
	StateHelloReceived
	StateKeySharesExchanged
	StateSecretsDerived
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "Idle",
	StateHelloSent:          "HelloSent",
	StateHelloReceived:      "HelloReceived",
	StateKeySharesExchanged: "KeySharesExchanged",
	StateSecretsDerived:     "SecretsDerived",
	StateComplete:           "Complete",
	StateFailed:             "Failed",
}

func (s HandshakeState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s HandshakeState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// transitions lists the forward edges. Failed is reachable from every
// non-terminal state.
var transitions = map[HandshakeState][]HandshakeState{
	StateIdle:               {StateHelloSent, StateHelloReceived},
	StateHelloSent:          {StateKeySharesExchanged},
	StateHelloReceived:      {StateKeySharesExchanged},
	StateKeySharesExchanged: {StateSecretsDerived},
	StateSecretsDerived:     {StateComplete},
}

// Role indicates whether this endpoint is the initiator or responder.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

func (r Role) sender() protocol.Sender {
	if r == RoleResponder {
		return protocol.SenderServer
	}
	return protocol.SenderClient
}

// alertWriteTimeout bounds the best-effort alert sent on failure.
const alertWriteTimeout = 250 * time.Millisecond

// Config holds handshake parameters for either role.
type Config struct {
	// Registry resolves algorithm ids. Defaults to primitive.Default().
	Registry *primitive.Registry

	// Policy is the local mode and algorithm choice.
	Policy negotiation.Policy

	// ExtraGroups are offered by a client in addition to its policy.
	ExtraGroups []primitive.AlgorithmID

	// CipherSuites in preference order. Defaults to every supported suite.
	CipherSuites []constants.CipherSuite

	// HandshakeTimeout bounds Idle to Complete.
	HandshakeTimeout time.Duration

	// MaxFrameSize caps a single frame body.
	MaxFrameSize int

	// Now is the clock used for timing and timestamps.
	Now func() time.Time

	// Identity, when set on a server, is presented in Finished.
	Identity *identity.Identity

	// RequireServerIdentity makes a client reject servers without a
	// certificate.
	RequireServerIdentity bool

	// TrustedKey pins the server's identity public key. Implies
	// RequireServerIdentity.
	TrustedKey []byte

	// ServerName, when set, must match the certificate subject.
	ServerName string

	// SessionID is reused by a rekey handshake. A server assigns it instead
	// of a fresh id and a client requires the server to echo it.
	SessionID string

	Observer Observer
}

func (c *Config) registry() *primitive.Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return primitive.Default()
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Config) timeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return constants.DefaultHandshakeTimeout
}

func (c *Config) suites() []constants.CipherSuite {
	if len(c.CipherSuites) > 0 {
		return c.CipherSuites
	}
	return protocol.SupportedCipherSuites()
}

func (c *Config) codec() *protocol.Codec {
	return protocol.NewCodec(protocol.WithMaxFrameSize(c.MaxFrameSize), protocol.WithClock(c.Now))
}

// Handshake runs one handshake for one role. It is not reusable.
type Handshake struct {
	cfg   Config
	role  Role
	codec *protocol.Codec
	rw    io.ReadWriter
	state HandshakeState

	transcript     Transcript
	transcriptHash []byte
	offered        []primitive.AlgorithmID
	negotiated     *negotiation.Configuration
	suite          constants.CipherSuite
	sessionID      string
	shares         *keyShares
	master         []byte
	keys           *SessionKeys
	peer           *identity.Peer

	started  time.Time
	finished time.Time
}

// NewHandshake creates a handshake for role.
func NewHandshake(cfg Config, role Role) *Handshake {
	return &Handshake{
		cfg:   cfg,
		role:  role,
		codec: cfg.codec(),
		state: StateIdle,
	}
}

// ClientHandshake runs a complete handshake as initiator over rw.
func ClientHandshake(ctx context.Context, rw io.ReadWriter, cfg Config) (*Result, error) {
	return NewHandshake(cfg, RoleInitiator).Run(ctx, rw)
}

// ServerHandshake runs a complete handshake as responder over rw.
func ServerHandshake(ctx context.Context, rw io.ReadWriter, cfg Config) (*Result, error) {
	return NewHandshake(cfg, RoleResponder).Run(ctx, rw)
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	return h.state
}

// Transition moves to next, rejecting edges the state machine does not have.
func (h *Handshake) Transition(next HandshakeState) error {
	if next == StateFailed && !h.state.Terminal() {
		h.state = next
		return nil
	}
	for _, allowed := range transitions[h.state] {
		if allowed == next {
			h.state = next
			return nil
		}
	}
	return fmt.Errorf("%v -> %v: %w", h.state, next, qerrors.ErrInvalidState)
}

// Run drives the handshake to Complete or Failed. If rw supports deadlines
// they are forced when ctx ends or the handshake timeout elapses, so
// blocked reads return. The returned Result is never nil.
func (h *Handshake) Run(ctx context.Context, rw io.ReadWriter) (*Result, error) {
	if h.state != StateIdle {
		return h.result(), fmt.Errorf("handshake already ran: %w", qerrors.ErrInvalidState)
	}

	ctx, done := observerOrNop(h.cfg.Observer).OnHandshakeStart(ctx, h.role)
	ctx, cancel := context.WithTimeout(ctx, h.cfg.timeout())
	defer cancel()
	stop := watchContext(ctx, rw)

	h.rw = rw
	h.started = h.cfg.now()

	var err error
	if h.role == RoleInitiator {
		err = h.runClient()
	} else {
		err = h.runServer()
	}
	if !stop() && err == nil {
		err = ctx.Err()
	}
	h.finished = h.cfg.now()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && qerrors.KindOf(err) == qerrors.KindTransport {
			err = fmt.Errorf("%w: %w", qerrors.ErrHandshakeTimeout, err)
		}
		err = h.fail(err)
	}
	// The conn outlives the handshake; drop the alert and cancellation
	// deadlines.
	clearDeadlines(rw)

	res := h.result()
	done(res, err)
	return res, err
}

// --- Initiator ---

func (h *Handshake) runClient() error {
	if err := h.sendClientHello(); err != nil {
		return err
	}
	if err := h.processServerHello(); err != nil {
		return err
	}

	var server protocol.KeyShare
	if err := h.read(protocol.MessageTypeKeyShare, &server); err != nil {
		return err
	}
	reply, err := h.shares.clientShares(&server)
	if err != nil {
		return err
	}
	if err := h.write(protocol.MessageTypeKeyShare, reply); err != nil {
		return err
	}
	if err := h.Transition(StateKeySharesExchanged); err != nil {
		return err
	}

	if err := h.deriveSecrets(); err != nil {
		return err
	}
	if err := h.processServerFinished(); err != nil {
		return err
	}
	if err := h.sendFinished(constants.LabelClientFinished, nil); err != nil {
		return err
	}
	return h.complete()
}

func (h *Handshake) sendClientHello() error {
	reg := h.cfg.registry()
	if err := h.cfg.Policy.Validate(reg); err != nil {
		return err
	}
	h.offered = h.cfg.Policy.Offer(reg, h.cfg.ExtraGroups...)

	random, err := crypto.SecureRandomBytes(constants.RandomSize)
	if err != nil {
		return err
	}
	hello := &protocol.ClientHello{
		ProtocolVersion: protocol.Current,
		Random:          random,
		CipherSuites:    protocol.CipherSuiteNames(h.cfg.suites()),
		SupportedGroups: h.offered,
		RequestedMode:   h.cfg.Policy.Mode,
	}
	if err := h.write(protocol.MessageTypeClientHello, hello); err != nil {
		return err
	}
	return h.Transition(StateHelloSent)
}

func (h *Handshake) processServerHello() error {
	var sh protocol.ServerHello
	if err := h.read(protocol.MessageTypeServerHello, &sh); err != nil {
		return err
	}
	if err := protocol.CheckVersion(sh.ProtocolVersion); err != nil {
		return err
	}
	if sh.Mode != h.cfg.Policy.Mode {
		return fmt.Errorf("server selected %v, requested %v: %w", sh.Mode, h.cfg.Policy.Mode, qerrors.ErrNoCompatibleConfiguration)
	}

	negotiated, err := negotiation.FromAlgorithms(sh.Mode, sh.Algorithms)
	if err != nil {
		return err
	}
	if err := negotiated.Verify(h.offered); err != nil {
		return err
	}
	if negotiated.GroupName() != sh.SelectedGroup {
		return fmt.Errorf("selected group %q does not match %q: %w", sh.SelectedGroup, negotiated.GroupName(), qerrors.ErrMalformedMessage)
	}

	suite, err := negotiation.SelectCipherSuite(h.cfg.suites(), protocol.ParseCipherSuites([]string{sh.CipherSuite}))
	if err != nil {
		return fmt.Errorf("server chose %s: %w", sh.CipherSuite, err)
	}
	if h.cfg.SessionID != "" && sh.SessionID != h.cfg.SessionID {
		return fmt.Errorf("server assigned session %s during rekey of %s: %w", sh.SessionID, h.cfg.SessionID, qerrors.ErrMalformedMessage)
	}

	shares, err := newKeyShares(h.cfg.registry(), negotiated)
	if err != nil {
		return err
	}
	h.negotiated, h.suite, h.sessionID, h.shares = negotiated, suite, sh.SessionID, shares
	return nil
}

func (h *Handshake) processServerFinished() error {
	var fin protocol.Finished
	if err := h.read(protocol.MessageTypeFinished, &fin); err != nil {
		return err
	}
	if err := h.checkVerifyData(constants.LabelServerFinished, h.transcriptHash, fin.VerifyData); err != nil {
		return err
	}

	requireIdentity := h.cfg.RequireServerIdentity || len(h.cfg.TrustedKey) > 0
	if fin.Certificate == "" {
		if requireIdentity {
			return fmt.Errorf("server sent no certificate: %w", qerrors.ErrIdentityRequired)
		}
		return nil
	}
	verifier := &identity.Verifier{
		Registry:   h.cfg.registry(),
		TrustedKey: h.cfg.TrustedKey,
		Subject:    h.cfg.ServerName,
		Now:        h.cfg.Now,
	}
	peer, err := verifier.Verify(fin.Certificate, fin.Signature, h.transcriptHash)
	if err != nil {
		return err
	}
	h.peer = peer
	return nil
}

// --- Responder ---

func (h *Handshake) runServer() error {
	if err := h.processClientHello(); err != nil {
		return err
	}
	if err := h.sendServerHello(); err != nil {
		return err
	}

	shares, err := h.shares.serverShares()
	if err != nil {
		return err
	}
	if err := h.write(protocol.MessageTypeKeyShare, shares); err != nil {
		return err
	}

	var client protocol.KeyShare
	if err := h.read(protocol.MessageTypeKeyShare, &client); err != nil {
		return err
	}
	if err := h.shares.complete(&client); err != nil {
		return err
	}
	if err := h.Transition(StateKeySharesExchanged); err != nil {
		return err
	}

	if err := h.deriveSecrets(); err != nil {
		return err
	}
	if err := h.sendFinished(constants.LabelServerFinished, h.cfg.Identity); err != nil {
		return err
	}

	expected := h.transcript.Hash()
	var fin protocol.Finished
	if err := h.read(protocol.MessageTypeFinished, &fin); err != nil {
		return err
	}
	if err := h.checkVerifyData(constants.LabelClientFinished, expected, fin.VerifyData); err != nil {
		return err
	}
	return h.complete()
}

func (h *Handshake) processClientHello() error {
	var ch protocol.ClientHello
	if err := h.read(protocol.MessageTypeClientHello, &ch); err != nil {
		return err
	}
	if err := h.Transition(StateHelloReceived); err != nil {
		return err
	}
	if err := protocol.CheckVersion(ch.ProtocolVersion); err != nil {
		return err
	}

	negotiated, err := negotiation.Negotiate(h.cfg.Policy, ch.SupportedGroups)
	if err != nil {
		return err
	}
	if ch.RequestedMode != h.cfg.Policy.Mode {
		return fmt.Errorf("client requested %v, server runs %v: %w", ch.RequestedMode, h.cfg.Policy.Mode, qerrors.ErrNoCompatibleConfiguration)
	}
	suite, err := negotiation.SelectCipherSuite(h.cfg.suites(), protocol.ParseCipherSuites(ch.CipherSuites))
	if err != nil {
		return err
	}
	shares, err := newKeyShares(h.cfg.registry(), negotiated)
	if err != nil {
		return err
	}

	h.sessionID = h.cfg.SessionID
	if h.sessionID == "" {
		if h.sessionID, err = newSessionID(); err != nil {
			return err
		}
	}
	h.negotiated, h.suite, h.shares = negotiated, suite, shares
	return nil
}

func (h *Handshake) sendServerHello() error {
	random, err := crypto.SecureRandomBytes(constants.RandomSize)
	if err != nil {
		return err
	}
	return h.write(protocol.MessageTypeServerHello, &protocol.ServerHello{
		ProtocolVersion: protocol.Current,
		Random:          random,
		SelectedGroup:   h.negotiated.GroupName(),
		CipherSuite:     h.suite.String(),
		Mode:            h.negotiated.Mode,
		Algorithms:      h.negotiated.Algorithms(),
		SessionID:       h.sessionID,
	})
}

// --- Shared steps ---

// deriveSecrets combines the per-primitive secrets in configuration order,
// binds them to the transcript and derives the session keys.
func (h *Handshake) deriveSecrets() error {
	h.transcriptHash = h.transcript.Hash()

	combined, err := crypto.CombineSecrets(h.shares.secrets())
	h.shares.erase()
	if err != nil {
		return err
	}
	defer crypto.Zeroize(combined)

	master, err := crypto.DeriveMasterSecret(combined, h.negotiated.Mode.String(), h.transcriptHash)
	if err != nil {
		return err
	}
	h.master = master

	block, err := crypto.DeriveKeyBlock(master, h.suite.KeySize())
	if err != nil {
		return err
	}
	keys, err := newSessionKeys(block, h.suite, h.role)
	if err != nil {
		return err
	}
	h.keys = keys
	return h.Transition(StateSecretsDerived)
}

// sendFinished sends verify_data over the current transcript hash. A
// non-nil id also signs the hash the session keys are bound to.
func (h *Handshake) sendFinished(label string, id *identity.Identity) error {
	th := h.transcript.Hash()
	fk, err := crypto.FinishedKey(h.master, label)
	if err != nil {
		return err
	}
	fin := &protocol.Finished{VerifyData: crypto.VerifyData(fk, th)}
	crypto.Zeroize(fk)

	if id != nil {
		sig, err := id.SignTranscript(h.transcriptHash)
		if err != nil {
			return err
		}
		fin.Certificate, fin.Signature = id.Certificate(), sig
		h.peer = id.Peer()
	}
	return h.write(protocol.MessageTypeFinished, fin)
}

func (h *Handshake) checkVerifyData(label string, th, got []byte) error {
	fk, err := crypto.FinishedKey(h.master, label)
	if err != nil {
		return err
	}
	want := crypto.VerifyData(fk, th)
	crypto.Zeroize(fk)
	if !crypto.ConstantTimeCompare(want, got) {
		return qerrors.NewProtocolError("finished", qerrors.ErrVerifyDataMismatch)
	}
	return nil
}

func (h *Handshake) complete() error {
	if err := h.Transition(StateComplete); err != nil {
		return err
	}
	crypto.Zeroize(h.master)
	h.master = nil
	h.transcript.Reset()
	return nil
}

// fail moves to Failed, erases everything secret and tells the peer why
// unless the failure is the transport itself or the peer's own alert.
func (h *Handshake) fail(err error) error {
	failedIn := h.state
	_ = h.Transition(StateFailed)

	h.shares.erase()
	crypto.Zeroize(h.master)
	h.master = nil
	h.keys.Destroy()
	h.keys = nil
	h.transcript.Reset()

	var alerted *protocol.AlertError
	if qerrors.KindOf(err) != qerrors.KindTransport && !errors.As(err, &alerted) {
		h.sendAlert(err)
	}
	return qerrors.NewHandshakeError(failedIn.String(), err)
}

func (h *Handshake) sendAlert(cause error) {
	if h.rw == nil {
		return
	}
	if wd, ok := h.rw.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = wd.SetWriteDeadline(time.Now().Add(alertWriteTimeout))
	}
	_, _ = h.codec.WriteMessage(h.rw, protocol.MessageTypeAlert, h.role.sender(), protocol.NewAlert(cause))
}

func (h *Handshake) write(t protocol.MessageType, payload any) error {
	body, err := h.codec.WriteMessage(h.rw, t, h.role.sender(), payload)
	if err != nil {
		return err
	}
	h.transcript.Append(t, h.role.sender(), h.cfg.now(), body)
	return nil
}

func (h *Handshake) read(want protocol.MessageType, v protocol.Validator) error {
	env, body, err := h.codec.ReadMessage(h.rw)
	if err != nil {
		return err
	}
	if err := protocol.DecodePayload(env, want, v); err != nil {
		return err
	}
	if env.Sender != h.role.sender().Peer() {
		return fmt.Errorf("%s from %s: %w", env.Type, env.Sender, qerrors.ErrUnexpectedMessage)
	}
	h.transcript.Append(env.Type, env.Sender, env.Timestamp, body)
	return nil
}

func (h *Handshake) result() *Result {
	res := &Result{
		Success:        h.state == StateComplete,
		Role:           h.role,
		Mode:           h.cfg.Policy.Mode,
		MessageCount:   h.transcript.Len(),
		Transcript:     h.transcript.Entries(),
		SessionID:      h.sessionID,
		TranscriptHash: h.transcriptHash,
		ServerIdentity: h.peer,
	}
	if !h.finished.IsZero() {
		res.HandshakeDuration = h.finished.Sub(h.started)
	}
	if h.negotiated != nil {
		res.Mode = h.negotiated.Mode
		res.Configuration = h.negotiated
		res.Algorithms = h.negotiated.AlgorithmNames()
		res.GroupName = h.negotiated.GroupName()
		res.CipherSuite = h.suite
	}
	if h.shares != nil {
		res.KeySizes = make(map[string]primitive.KeySizes, len(h.shares.shares))
		for _, s := range h.shares.shares {
			res.KeySizes[string(s.sel.Algorithm)] = s.sizes
		}
	}
	if res.Success {
		res.Keys = h.keys
		res.SharedSecretSize = constants.MasterSecretSize
	}
	return res
}

func newSessionID() (string, error) {
	b, err := crypto.SecureRandomBytes(constants.SessionIDSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
