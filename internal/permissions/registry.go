package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charlesng35/clinicauth/pkg/validator"
)

// Permission describes a capability in the clinic vocabulary.
type Permission struct {
	ID          string `yaml:"id"`
	Module      string `yaml:"module"`
	Description string `yaml:"description"`
}

type permissionRegistry struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
}

var globalRegistry = &permissionRegistry{
	permissions: make(map[string]*Permission),
}

var (
	// ErrUnknownPermission is returned for names outside the registered vocabulary.
	ErrUnknownPermission = errors.New("permission: unknown permission")

	errNilPermission = errors.New("permission: nil definition")
	errInvalidID     = errors.New("permission: id must be lower snake case")
	errDuplicateID   = errors.New("permission: already registered")
)

// Register adds a permission definition to the global registry.
func Register(perm *Permission) error {
	if perm == nil {
		return errNilPermission
	}

	id := strings.TrimSpace(perm.ID)
	if !validator.IsPermissionName(id) {
		return fmt.Errorf("%w: %q", errInvalidID, perm.ID)
	}

	def := *perm
	def.ID = id
	def.Module = strings.TrimSpace(def.Module)
	if def.Module == "" {
		def.Module = "custom"
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.permissions[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	globalRegistry.permissions[id] = &def
	return nil
}

// Get returns a copy of the permission definition when registered.
func Get(id string) (*Permission, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	perm, ok := globalRegistry.permissions[id]
	if !ok {
		return nil, false
	}
	cp := *perm
	return &cp, true
}

// Exists reports whether id is part of the vocabulary.
func Exists(id string) bool {
	_, ok := Get(id)
	return ok
}

// GetAll returns a copy of all registered permissions keyed by ID.
func GetAll() map[string]*Permission {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make(map[string]*Permission, len(globalRegistry.permissions))
	for id, perm := range globalRegistry.permissions {
		cp := *perm
		out[id] = &cp
	}
	return out
}

// IDs returns every registered permission name in sorted order.
func IDs() []string {
	all := GetAll()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetByModule gathers permissions registered under the specified module.
func GetByModule(module string) []*Permission {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	module = strings.TrimSpace(module)
	var perms []*Permission
	for _, perm := range globalRegistry.permissions {
		if perm.Module == module {
			cp := *perm
			perms = append(perms, &cp)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms
}
