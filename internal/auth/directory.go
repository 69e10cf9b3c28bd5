package auth

import (
	"fmt"
	"strings"
	"sync"
)

// Directory maps callers to the keeper roles they were granted. Callers not
// in the directory act only on their own account.
type Directory struct {
	mu    sync.RWMutex
	roles map[string][]Role
}

func NewDirectory() *Directory {
	return &Directory{roles: make(map[string][]Role)}
}

// ParseDirectory reads "caller=ROLE,ROLE;caller=ROLE" as used by POOL_ROLES.
func ParseDirectory(s string) (*Directory, error) {
	d := NewDirectory()
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		caller, list, ok := strings.Cut(entry, "=")
		caller = strings.TrimSpace(caller)
		if !ok || caller == "" {
			return nil, fmt.Errorf("role entry %q: want caller=ROLE[,ROLE]", entry)
		}
		var roles []Role
		for _, name := range strings.Split(list, ",") {
			r, ok := ParseRole(name)
			if !ok {
				return nil, fmt.Errorf("role entry %q: unknown role %q", entry, name)
			}
			roles = append(roles, r)
		}
		d.Grant(caller, roles...)
	}
	return d, nil
}

func (d *Directory) Grant(caller string, roles ...Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[caller] = append(d.roles[caller], roles...)
}

// Capability returns the capability of caller with extra added on top of the
// roles the directory holds for it.
func (d *Directory) Capability(caller string, extra ...Role) Capability {
	d.mu.RLock()
	granted := d.roles[caller]
	roles := make([]Role, 0, len(granted)+len(extra))
	roles = append(roles, granted...)
	d.mu.RUnlock()
	return NewCapability(caller, append(roles, extra...)...)
}
