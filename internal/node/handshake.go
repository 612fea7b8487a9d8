package node

import (
	"errors"
	"fmt"
	"io"
	"time"

	"supernode/internal/crypto"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

type HandshakeState int

const (
	StateListening HandshakeState = iota
	StateChallengeSent
	StateAwaitingResponse
	StateAuthenticated
	StateRejected
)

func (s HandshakeState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateChallengeSent:
		return "challenge_sent"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrProofOfWork    = errors.New("handshake proof of work failed")
	ErrNotProducer    = errors.New("handshake key is not a producer")
	ErrBadSignature   = errors.New("handshake signature invalid")
	ErrHandshakeState = errors.New("handshake step out of order")
	ErrWorkExhausted  = errors.New("handshake work search exhausted")
)

// RejectReason maps a handshake error to a short metrics label.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProofOfWork):
		return "pow"
	case errors.Is(err, ErrNotProducer):
		return "not_producer"
	case errors.Is(err, ErrBadSignature):
		return "signature"
	case errors.Is(err, ErrHandshakeState):
		return "state"
	}
	return "io"
}

// Handshake is the accepting side of the producer challenge. Each state has
// exactly one transition; any failed transition moves to StateRejected.
type Handshake struct {
	conn      Conn
	producers peer.ProducerSet
	rand      io.Reader
	timeout   time.Duration

	state    HandshakeState
	err      error
	local    [proto.ChallengeSize]byte
	resp     proto.HandshakeResponse
	digest   [crypto.HashSize]byte
	identity peer.Identity
}

func (n *Node) NewHandshake(conn Conn) *Handshake {
	return &Handshake{
		conn:      conn,
		producers: n.Producers,
		rand:      n.opts.Rand,
		timeout:   n.opts.HandshakeTimeout,
		state:     StateListening,
	}
}

func (h *Handshake) State() HandshakeState { return h.state }

func (h *Handshake) Err() error { return h.err }

func (h *Handshake) Identity() peer.Identity { return h.identity }

func (h *Handshake) Step() error {
	var err error
	next := StateRejected
	switch h.state {
	case StateListening:
		err = h.sendChallenge()
		next = StateChallengeSent
	case StateChallengeSent:
		err = h.readResponse()
		next = StateAwaitingResponse
	case StateAwaitingResponse:
		err = h.verify()
		next = StateAuthenticated
	default:
		err = fmt.Errorf("%w: step from %s", ErrHandshakeState, h.state)
	}
	if err != nil {
		h.state = StateRejected
		h.err = err
		return err
	}
	h.state = next
	return nil
}

func (h *Handshake) Run() (peer.Identity, error) {
	for h.state != StateAuthenticated {
		if err := h.Step(); err != nil {
			return peer.Identity{}, err
		}
	}
	return h.identity, nil
}

func (h *Handshake) sendChallenge() error {
	if _, err := io.ReadFull(h.rand, h.local[:]); err != nil {
		return fmt.Errorf("challenge entropy: %w", err)
	}
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil {
		return err
	}
	if _, err := h.conn.Write(h.local[:]); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}
	return nil
}

func (h *Handshake) readResponse() error {
	if err := h.conn.SetReadDeadline(time.Now().Add(h.timeout)); err != nil {
		return err
	}
	var buf [proto.HandshakeResponseSize]byte
	if _, err := io.ReadFull(h.conn, buf[:]); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	resp, err := proto.DecodeHandshakeResponse(buf[:])
	if err != nil {
		return err
	}
	h.resp = resp
	return nil
}

func (h *Handshake) verify() error {
	if err := h.checkWork(); err != nil {
		return err
	}
	if err := h.checkProducer(); err != nil {
		return err
	}
	return h.checkSignature()
}

func (h *Handshake) checkWork() error {
	h.digest = crypto.ChallengeDigest(h.local[:], h.resp.Challenge[:])
	if !crypto.WorkCheck(h.digest[:], crypto.HandshakeWorkBits) {
		return ErrProofOfWork
	}
	return nil
}

func (h *Handshake) checkProducer() error {
	id := peer.NewIdentity(h.resp.PubKey)
	if h.producers == nil || !h.producers.IsProducer(id.Address) {
		return fmt.Errorf("%w: %s", ErrNotProducer, id.Address)
	}
	h.identity = id
	return nil
}

func (h *Handshake) checkSignature() error {
	if !crypto.VerifyDigest(h.resp.PubKey, h.digest[:], h.resp.Sig) {
		return ErrBadSignature
	}
	return nil
}

// Respond runs the dialling side: read the server half, search for a local
// half that satisfies the work target, and send it signed.
func (n *Node) Respond(conn Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(n.opts.HandshakeTimeout)); err != nil {
		return err
	}
	var server [proto.ChallengeSize]byte
	if _, err := io.ReadFull(conn, server[:]); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	var seed [32]byte
	if _, err := io.ReadFull(n.opts.Rand, seed[:]); err != nil {
		return fmt.Errorf("challenge entropy: %w", err)
	}
	remote, ok := crypto.WorkSolve(server[:], seed, crypto.HandshakeWorkBits, n.opts.MaxWorkTries)
	if !ok {
		return ErrWorkExhausted
	}
	digest := crypto.ChallengeDigest(server[:], remote[:])
	sig, err := crypto.SignDigest(n.PrivKey, digest[:])
	if err != nil {
		return err
	}
	wire := proto.EncodeHandshakeResponse(proto.HandshakeResponse{
		Challenge: remote,
		PubKey:    n.Self.PubKey,
		Sig:       sig,
	})
	if err := conn.SetWriteDeadline(time.Now().Add(n.opts.HandshakeTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(wire[:]); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
