package router

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Manager implements the §4.6 worker-sharding rule: a channel's worker
// is chosen by bytes_of(channel_id)[0] mod N, and every Producer,
// Consumer, and transport for that channel lives on its single Router.
// Each shard has its own mutex so unrelated channels never contend.
type Manager struct {
	listenIP   string
	iceServers []webrtc.ICEServer
	shards     []*shard
}

type shard struct {
	mu      sync.Mutex
	routers map[string]*Router
}

// NewManager builds a Manager with workerCount shards. listenIP is the
// address Plain-RTP transports bind and advertise in rtp_target.
func NewManager(workerCount int, listenIP string, iceServers []webrtc.ICEServer) *Manager {
	if workerCount < 1 {
		workerCount = 1
	}
	shards := make([]*shard, workerCount)
	for i := range shards {
		shards[i] = &shard{routers: make(map[string]*Router)}
	}
	return &Manager{listenIP: listenIP, iceServers: iceServers, shards: shards}
}

func (m *Manager) shardFor(channelID string) *shard {
	idx := 0
	if len(channelID) > 0 {
		idx = int(channelID[0]) % len(m.shards)
	}
	return m.shards[idx]
}

// ChannelRouter returns the Router for channelID, creating it on first
// use on the shard its channel id hashes to.
func (m *Manager) ChannelRouter(channelID string) (*Router, error) {
	sh := m.shardFor(channelID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.routers[channelID]
	if ok {
		return r, nil
	}
	r, err := newRouter(channelID, m.listenIP, m.iceServers)
	if err != nil {
		return nil, fmt.Errorf("router: create channel %s: %w", channelID, err)
	}
	sh.routers[channelID] = r
	return r, nil
}

// CleanupConnection removes connID from every channel it touched. The
// signaling layer is expected to track which channel(s) a connection
// joined and call this once per channel on disconnect; this convenience
// form sweeps all currently-known channels for callers that don't.
func (m *Manager) CleanupConnection(connID string) {
	for _, sh := range m.shards {
		sh.mu.Lock()
		routers := make([]*Router, 0, len(sh.routers))
		for _, r := range sh.routers {
			routers = append(routers, r)
		}
		sh.mu.Unlock()

		for _, r := range routers {
			r.CleanupConnection(connID)
		}
	}
}
