package embertls

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/embertls/embertls/internal/suite"
)

// sessionTicket is a client-side resumption handle: the ticket bytes to
// present as a PSK identity, the derived PSK, and the age bookkeeping.
type sessionTicket struct {
	ticket     []byte
	psk        []byte
	suiteID    suite.ID
	ageAdd     uint32
	lifetime   uint32
	receivedAt time.Time
}

// obfuscatedAge is elapsed milliseconds plus age_add, modulo 2^32
// (RFC 8446, section 4.2.11.1).
func (t *sessionTicket) obfuscatedAge(now time.Time) uint32 {
	elapsed := now.Sub(t.receivedAt) / time.Millisecond
	return uint32(elapsed) + t.ageAdd
}

func (t *sessionTicket) expired(now time.Time) bool {
	return now.Sub(t.receivedAt) > time.Duration(t.lifetime)*time.Second
}

// TicketCache holds the most recent resumption ticket per server name
// on the client side.
type TicketCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewTicketCache bounds the cache to maxEntries server names.
func NewTicketCache(maxEntries int) *TicketCache {
	return &TicketCache{lru: lru.New(maxEntries)}
}

func (c *TicketCache) put(serverName string, t *sessionTicket) {
	c.mu.Lock()
	c.lru.Add(serverName, t)
	c.mu.Unlock()
}

func (c *TicketCache) get(serverName string, now time.Time) *sessionTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(serverName)
	if !ok {
		return nil
	}
	t := v.(*sessionTicket)
	if t.expired(now) {
		c.lru.Remove(serverName)
		return nil
	}
	return t
}

// serverSession is what a server remembers about an issued ticket.
type serverSession struct {
	psk     []byte
	suiteID suite.ID
}

// TicketStore is the server-side table of issued tickets, keyed by the
// ticket bytes.
type TicketStore struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewTicketStore bounds the store to maxEntries outstanding tickets.
func NewTicketStore(maxEntries int) *TicketStore {
	return &TicketStore{lru: lru.New(maxEntries)}
}

func (s *TicketStore) put(ticket []byte, sess *serverSession) {
	s.mu.Lock()
	s.lru.Add(string(ticket), sess)
	s.mu.Unlock()
}

// take looks a ticket up and removes it: tickets are single-redemption.
func (s *TicketStore) take(ticket []byte) *serverSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lru.Get(string(ticket))
	if !ok {
		return nil
	}
	s.lru.Remove(string(ticket))
	return v.(*serverSession)
}
