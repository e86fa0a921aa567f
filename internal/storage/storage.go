package storage

import (
	"sort"
	"strings"
	"sync"
)

// Registry tracks which OpenID identities are administrators and which are
// barred from the web interface.
type Registry interface {
	IsAdmin(identity string) bool
	IsBlacklisted(identity string) bool
	Admins() []string
	SetBlacklist(identities []string)
}

// MemoryRegistry keeps identities in-memory and guards access with a RWMutex.
type MemoryRegistry struct {
	mu          sync.RWMutex
	admins      map[string]struct{}
	blacklisted map[string]struct{}
}

// NewMemoryRegistry seeds the registry from ANITYA_WEB_ADMINS and
// BLACKLISTED_USERS.
func NewMemoryRegistry(admins, blacklisted []string) *MemoryRegistry {
	return &MemoryRegistry{
		admins:      toSet(admins),
		blacklisted: toSet(blacklisted),
	}
}

// IsAdmin reports whether identity is a configured administrator.
func (r *MemoryRegistry) IsAdmin(identity string) bool {
	return r.contains(&r.admins, identity)
}

// IsBlacklisted reports whether identity must be refused.
func (r *MemoryRegistry) IsBlacklisted(identity string) bool {
	return r.contains(&r.blacklisted, identity)
}

// Admins returns the sorted administrator identities.
func (r *MemoryRegistry) Admins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.admins))
	for id := range r.admins {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetBlacklist replaces the blacklisted identities.
func (r *MemoryRegistry) SetBlacklist(identities []string) {
	set := toSet(identities)

	r.mu.Lock()
	r.blacklisted = set
	r.mu.Unlock()
}

func (r *MemoryRegistry) contains(set *map[string]struct{}, identity string) bool {
	id := Normalize(identity)
	if id == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := (*set)[id]
	return ok
}

// Normalize canonicalises an OpenID identity URL so that
// "http://pingou.id.fedoraproject.org/" and "http://pingou.id.fedoraproject.org"
// compare equal.
func Normalize(identity string) string {
	return strings.TrimRight(strings.TrimSpace(identity), "/")
}

func toSet(identities []string) map[string]struct{} {
	out := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if id = Normalize(id); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
