// Package mixer implements the Peer Mixer: it owns one peerchan.Channel per
// connected peer and, on each pull, sums one sample from every active peer.
package mixer

import (
	"sync"

	"github.com/charmbracelet/log"

	"client/internal/peerchan"
)

// Mixer fans decoded per-peer audio into a single additive stream. It
// satisfies the audio source contract used by the playback loop: Next
// returns the next mixed sample, or ok=false when there is nothing to play
// from any peer.
type Mixer struct {
	mu         sync.Mutex
	peers      map[uint32]*peerchan.Channel
	sampleRate int
	channels   int
	latency    peerchan.Latency
}

// New returns an empty Mixer. Every peer added later decodes and buffers at
// sampleRate/channels, preloaded per latency.
func New(sampleRate, channels int, latency peerchan.Latency) *Mixer {
	return &Mixer{
		peers:      make(map[uint32]*peerchan.Channel),
		sampleRate: sampleRate,
		channels:   channels,
		latency:    latency,
	}
}

// AddPeer registers id with a fresh channel. A peer that already exists is
// not re-created — its decoder and buffered audio are reset in place instead,
// so a rejoining peer doesn't inherit stale PLC/FEC decoder state or leftover
// buffered samples from its previous session.
func (m *Mixer) AddPeer(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.peers[id]; ok {
		log.Warn("peer already exists in mixer, resetting decoder state", "peer_id", id)
		return ch.Reset()
	}
	ch, err := peerchan.NewChannel(m.sampleRate, m.channels, m.latency)
	if err != nil {
		return err
	}
	m.peers[id] = ch
	return nil
}

// RemovePeer drops id's channel. A packet for id that arrives after removal
// goes through Push's unknown-peer branch below, which lazily re-adds the
// peer with a fresh channel.
func (m *Mixer) RemovePeer(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

// channelFor returns id's channel, lazily adding it with a warning if it
// isn't already registered — matching the server's own tolerance for voice
// datagrams that race a Connected announcement.
func (m *Mixer) channelFor(id uint32) (*peerchan.Channel, error) {
	m.mu.Lock()
	ch, ok := m.peers[id]
	m.mu.Unlock()
	if ok {
		return ch, nil
	}
	log.Warn("voice from unknown peer, adding lazily", "peer_id", id)
	if err := m.AddPeer(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	ch = m.peers[id]
	m.mu.Unlock()
	return ch, nil
}

// Push decodes an Opus frame for peer id and buffers its samples. A nil
// encodedFrame requests packet-loss concealment for that peer's stream.
func (m *Mixer) Push(id uint32, encodedFrame []byte) error {
	ch, err := m.channelFor(id)
	if err != nil {
		return err
	}
	if err := ch.Push(encodedFrame); err != nil {
		log.Warn("could not decode peer frame, dropping", "peer_id", id, "error", err)
	}
	return nil
}

// PushFEC reconstructs a lost frame for peer id from the following frame's
// in-band FEC data, in place of plain PLC.
func (m *Mixer) PushFEC(id uint32, nextEncodedFrame []byte) error {
	ch, err := m.channelFor(id)
	if err != nil {
		return err
	}
	if err := ch.PushFEC(nextEncodedFrame); err != nil {
		log.Warn("could not FEC-recover peer frame, dropping", "peer_id", id, "error", err)
	}
	return nil
}

// Next pops one sample from every active peer and returns their sum. ok is
// false only when there are no active peers at all; with at least one peer,
// an empty channel simply contributes silence (see peerchan.Channel.Pop),
// so Next always reports ok=true in that case — the mixer's "exhausted"
// state is peer count, not per-channel data availability.
func (m *Mixer) Next() (sample float32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.peers) == 0 {
		return 0, false
	}
	var sum float32
	for _, ch := range m.peers {
		sum += ch.Pop()
	}
	return sum, true
}

// PeerCount returns the number of currently active peers.
func (m *Mixer) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}
