package nodes

import (
	"sort"
	"sync"
	"time"
)

// NodeInfo holds what the gateway last heard from a sensor node
type NodeInfo struct {
	NodeID     string
	FirstHeard time.Time
	LastHeard  time.Time
	LastRSSI   int
	LastSNR    float64
	Frames     uint64
}

// Roster tracks every node the gateway has acknowledged. The receive loop
// writes to it while the stats ticker reads from another goroutine.
type Roster struct {
	nodes map[string]*NodeInfo
	mu    sync.RWMutex
}

// NewRoster creates an empty roster
func NewRoster() *Roster {
	return &Roster{
		nodes: make(map[string]*NodeInfo),
	}
}

// Observe records an acknowledged frame from a node
func (r *Roster) Observe(nodeID string, rssi int, snr float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.nodes[nodeID]
	if !exists {
		info = &NodeInfo{NodeID: nodeID, FirstHeard: at}
		r.nodes[nodeID] = info
	}
	info.LastHeard = at
	info.LastRSSI = rssi
	info.LastSNR = snr
	info.Frames++
}

// Get returns a copy of the node's info
func (r *Roster) Get(nodeID string) (NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.nodes[nodeID]
	if !exists {
		return NodeInfo{}, false
	}
	return *info, true
}

// Silent returns the ids of nodes not heard from within timeout, sorted
func (r *Roster) Silent(timeout time.Duration, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var silent []string
	for id, info := range r.nodes {
		if now.Sub(info.LastHeard) > timeout {
			silent = append(silent, id)
		}
	}
	sort.Strings(silent)
	return silent
}

// Count returns the number of known nodes
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Stats returns aggregate roster statistics
func (r *Roster) Stats() RosterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RosterStats{Nodes: len(r.nodes)}
	for _, info := range r.nodes {
		stats.Frames += info.Frames
	}
	return stats
}

// RosterStats contains statistics about the roster
type RosterStats struct {
	Nodes  int
	Frames uint64
}
