// Copyright 2025.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package services

import (
	"sync"
	"time"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
)

// poolEntry is the bookkeeping record for one pooled session.
type poolEntry struct {
	session   ports.Session
	key       string
	createdAt time.Time
	lastUsed  time.Time
	useCount  int
}

// ConnectionSnapshot is a read-only view of one pool entry for stats
// reporting.
type ConnectionSnapshot struct {
	Key      string              `json:"key"`
	Uptime   time.Duration       `json:"uptime"`
	IdleTime time.Duration       `json:"idle_time"`
	UseCount int                 `json:"use_count"`
	State    domain.SessionState `json:"state"`
}

// PoolStats summarizes the pool for the CLI layer.
type PoolStats struct {
	MaxConnections    int                  `json:"max_connections"`
	ActiveConnections int                  `json:"active_connections"`
	AvailableSlots    int                  `json:"available_slots"`
	Utilization       float64              `json:"utilization"`
	Connections       []ConnectionSnapshot `json:"connections"`
}

// ConnectionPool is a bounded, keyed registry of live sessions. It is
// pure bookkeeping: it never opens or closes transports, leaving
// session lifecycle decisions to the ConnectionManager.
type ConnectionPool struct {
	mu      sync.Mutex
	max     int
	entries map[string]*poolEntry
}

// NewConnectionPool creates a pool bounded at max sessions.
func NewConnectionPool(max int) *ConnectionPool {
	return &ConnectionPool{
		max:     max,
		entries: make(map[string]*poolEntry),
	}
}

// Add registers a session under key. It returns false when the pool is
// full or the key is already taken.
func (p *ConnectionPool) Add(key string, session ports.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= p.max {
		return false
	}
	if _, exists := p.entries[key]; exists {
		return false
	}

	now := time.Now()
	p.entries[key] = &poolEntry{
		session:   session,
		key:       key,
		createdAt: now,
		lastUsed:  now,
	}
	return true
}

// Get returns the session registered under key, or nil. A hit touches
// the entry: last-used time moves forward and the use count increments.
func (p *ConnectionPool) Get(key string) ports.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return nil
	}
	entry.lastUsed = time.Now()
	entry.useCount++
	return entry.session
}

// Remove deletes the entry under key and returns its session, or nil.
func (p *ConnectionPool) Remove(key string) ports.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return nil
	}
	delete(p.entries, key)
	return entry.session
}

// ActiveCount returns the number of registered sessions.
func (p *ConnectionPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// AvailableSlots returns how many more sessions fit.
func (p *ConnectionPool) AvailableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max - len(p.entries)
}

// IsFull reports whether the pool is at capacity.
func (p *ConnectionPool) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) >= p.max
}

// UseCount returns the recorded use count for key, without touching
// the entry.
func (p *ConnectionPool) UseCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[key]; ok {
		return entry.useCount
	}
	return 0
}

// idleEntry pairs a pool key with its session for reaper sweeps.
type idleEntry struct {
	key     string
	session ports.Session
}

// idleCandidates snapshots the entries idle longer than threshold. The
// caller disconnects them outside the lock and then removes them.
func (p *ConnectionPool) idleCandidates(threshold time.Duration) []idleEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var out []idleEntry
	for key, entry := range p.entries {
		if now.Sub(entry.lastUsed) > threshold {
			out = append(out, idleEntry{key: key, session: entry.session})
		}
	}
	return out
}

// drain removes every entry and returns the sessions, for shutdown.
func (p *ConnectionPool) drain() []ports.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := make([]ports.Session, 0, len(p.entries))
	for key, entry := range p.entries {
		sessions = append(sessions, entry.session)
		delete(p.entries, key)
	}
	return sessions
}

// Stats returns a snapshot of the pool and every connection in it.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	stats := PoolStats{
		MaxConnections:    p.max,
		ActiveConnections: len(p.entries),
		AvailableSlots:    p.max - len(p.entries),
		Connections:       make([]ConnectionSnapshot, 0, len(p.entries)),
	}
	if p.max > 0 {
		stats.Utilization = float64(len(p.entries)) / float64(p.max)
	}
	for _, entry := range p.entries {
		stats.Connections = append(stats.Connections, ConnectionSnapshot{
			Key:      entry.key,
			Uptime:   now.Sub(entry.createdAt),
			IdleTime: now.Sub(entry.lastUsed),
			UseCount: entry.useCount,
			State:    entry.session.Status(),
		})
	}
	return stats
}
