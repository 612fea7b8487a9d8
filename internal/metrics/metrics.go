package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type AnnounceHeader struct {
	Address   string `json:"address"`
	Endpoint  string `json:"endpoint"`
	Timestamp uint32 `json:"timestamp"`
	Replaced  bool   `json:"replaced"`
}

type Snapshot struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Handshake      HandshakeMetrics  `json:"handshake"`
	Session        SessionMetrics    `json:"session"`
	Announce       AnnounceMetrics   `json:"announce"`
	CurrentSession int64             `json:"current_sessions"`
	Recent         []AnnounceHeader  `json:"recent"`
	RejectByReason map[string]uint64 `json:"reject_by_reason"`
	DropByReason   map[string]uint64 `json:"drop_by_reason"`
}

type HandshakeMetrics struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Limited  uint64 `json:"limited"`
}

type SessionMetrics struct {
	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	PacketsSent     uint64 `json:"packets_sent"`
	Closed          uint64 `json:"closed"`
}

type AnnounceMetrics struct {
	Accepted      uint64 `json:"accepted"`
	Replaced      uint64 `json:"replaced"`
	Dropped       uint64 `json:"dropped"`
	Ignored       uint64 `json:"ignored"`
	DialAttempted uint64 `json:"dial_attempted"`
	DialFailed    uint64 `json:"dial_failed"`
	SelfAnnounced uint64 `json:"self_announced"`
}

type Metrics struct {
	handshakeAccepted atomic.Uint64
	handshakeRejected atomic.Uint64
	handshakeLimited  atomic.Uint64
	packetsReceived   atomic.Uint64
	bytesReceived     atomic.Uint64
	packetsSent       atomic.Uint64
	sessionsClosed    atomic.Uint64
	announceAccepted  atomic.Uint64
	announceReplaced  atomic.Uint64
	announceDropped   atomic.Uint64
	announceIgnored   atomic.Uint64
	dialAttempted     atomic.Uint64
	dialFailed        atomic.Uint64
	selfAnnounced     atomic.Uint64
	currentSessions   atomic.Int64
	reasonMu          sync.Mutex
	rejectByReason    map[string]uint64
	dropByReason      map[string]uint64
	recent            *AnnounceRecent
}

func New() *Metrics {
	return &Metrics{
		rejectByReason: make(map[string]uint64),
		dropByReason:   make(map[string]uint64),
		recent:         NewAnnounceRecent(64),
	}
}

func (m *Metrics) Recent() *AnnounceRecent {
	if m == nil {
		return nil
	}
	return m.recent
}

func (m *Metrics) IncHandshakeAccepted() {
	if m != nil {
		m.handshakeAccepted.Add(1)
	}
}

func (m *Metrics) IncHandshakeRejected(reason string) {
	if m == nil {
		return
	}
	m.handshakeRejected.Add(1)
	m.incReason(m.rejectByReason, reason)
}

func (m *Metrics) IncHandshakeLimited() {
	if m != nil {
		m.handshakeLimited.Add(1)
	}
}

func (m *Metrics) AddPacketReceived(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Add(1)
	m.bytesReceived.Add(uint64(n))
}

func (m *Metrics) IncPacketSent() {
	if m != nil {
		m.packetsSent.Add(1)
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.currentSessions.Add(1)
	}
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Add(1)
	m.currentSessions.Add(-1)
}

func (m *Metrics) IncAnnounceAccepted(replaced bool) {
	if m == nil {
		return
	}
	m.announceAccepted.Add(1)
	if replaced {
		m.announceReplaced.Add(1)
	}
}

func (m *Metrics) IncAnnounceDropped(reason string) {
	if m == nil {
		return
	}
	m.announceDropped.Add(1)
	m.incReason(m.dropByReason, reason)
}

func (m *Metrics) IncAnnounceIgnored() {
	if m != nil {
		m.announceIgnored.Add(1)
	}
}

func (m *Metrics) IncDialAttempted() {
	if m != nil {
		m.dialAttempted.Add(1)
	}
}

func (m *Metrics) IncDialFailed() {
	if m != nil {
		m.dialFailed.Add(1)
	}
}

func (m *Metrics) IncSelfAnnounced() {
	if m != nil {
		m.selfAnnounced.Add(1)
	}
}

func (m *Metrics) incReason(dst map[string]uint64, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.reasonMu.Lock()
	dst[reason]++
	m.reasonMu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []AnnounceHeader{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	m.reasonMu.Lock()
	rejects := make(map[string]uint64, len(m.rejectByReason))
	for k, v := range m.rejectByReason {
		rejects[k] = v
	}
	drops := make(map[string]uint64, len(m.dropByReason))
	for k, v := range m.dropByReason {
		drops[k] = v
	}
	m.reasonMu.Unlock()
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Handshake: HandshakeMetrics{
			Accepted: m.handshakeAccepted.Load(),
			Rejected: m.handshakeRejected.Load(),
			Limited:  m.handshakeLimited.Load(),
		},
		Session: SessionMetrics{
			PacketsReceived: m.packetsReceived.Load(),
			BytesReceived:   m.bytesReceived.Load(),
			PacketsSent:     m.packetsSent.Load(),
			Closed:          m.sessionsClosed.Load(),
		},
		Announce: AnnounceMetrics{
			Accepted:      m.announceAccepted.Load(),
			Replaced:      m.announceReplaced.Load(),
			Dropped:       m.announceDropped.Load(),
			Ignored:       m.announceIgnored.Load(),
			DialAttempted: m.dialAttempted.Load(),
			DialFailed:    m.dialFailed.Load(),
			SelfAnnounced: m.selfAnnounced.Load(),
		},
		CurrentSession: m.currentSessions.Load(),
		Recent:         recent,
		RejectByReason: rejects,
		DropByReason:   drops,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type AnnounceRecent struct {
	mu   sync.Mutex
	cap  int
	list []AnnounceHeader
}

func NewAnnounceRecent(capacity int) *AnnounceRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &AnnounceRecent{cap: capacity}
}

func (r *AnnounceRecent) Add(h AnnounceHeader) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = h
		return
	}
	r.list = append(r.list, h)
}

func (r *AnnounceRecent) List() []AnnounceHeader {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AnnounceHeader, len(r.list))
	copy(out, r.list)
	return out
}
