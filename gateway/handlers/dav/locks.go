package dav

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTimeout = 10 * time.Minute

// lockEntry is one active WebDAV lock. Depth is stored but enforcement
// covers the single resource only.
type lockEntry struct {
	Token   string
	Path    string
	Owner   string
	Scope   string // exclusive or shared
	Depth   string
	Expires time.Time
}

// lockTable is the in-memory lock registry, keyed both by path and by
// opaque token. Expired locks are swept on access.
type lockTable struct {
	mu      sync.Mutex
	byPath  map[string]*lockEntry
	byToken map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{
		byPath:  make(map[string]*lockEntry),
		byToken: make(map[string]*lockEntry),
	}
}

func (t *lockTable) sweepLocked() {
	now := time.Now()
	for token, l := range t.byToken {
		if now.After(l.Expires) {
			delete(t.byToken, token)
			delete(t.byPath, l.Path)
		}
	}
}

// create registers a new lock unless a live conflicting lock exists. When
// the If header presents the existing lock's token the call refreshes it
// instead.
func (t *lockTable) create(path, owner, scope, depth string, timeout time.Duration, ifHeader string) (*lockEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	if existing, ok := t.byPath[path]; ok {
		if strings.Contains(ifHeader, existing.Token) {
			existing.Expires = time.Now().Add(timeout)
			return existing, true
		}
		return nil, false
	}

	l := &lockEntry{
		Token:   "opaquelocktoken:" + uuid.NewString(),
		Path:    path,
		Owner:   owner,
		Scope:   scope,
		Depth:   depth,
		Expires: time.Now().Add(timeout),
	}
	t.byPath[path] = l
	t.byToken[l.Token] = l
	return l, true
}

// refresh extends a lock's TTL by token.
func (t *lockTable) refresh(token string, timeout time.Duration) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	l, ok := t.byToken[token]
	if !ok {
		return nil
	}
	l.Expires = time.Now().Add(timeout)
	return l
}

// unlock removes a lock by token.
func (t *lockTable) unlock(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	l, ok := t.byToken[token]
	if !ok {
		return false
	}
	delete(t.byToken, token)
	delete(t.byPath, l.Path)
	return true
}

// allowed reports whether a mutation on path may proceed given the If
// header: either no live lock exists, or the header carries its token.
func (t *lockTable) allowed(path, ifHeader string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	l, ok := t.byPath[path]
	if !ok {
		return true
	}
	return strings.Contains(ifHeader, l.Token)
}

// parseTimeout reads a DAV Timeout header ("Second-3600", "Infinite").
func parseTimeout(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		if secs, ok := strings.CutPrefix(strings.TrimSpace(part), "Second-"); ok {
			if n, err := strconv.ParseInt(secs, 10, 64); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	return defaultLockTimeout
}
