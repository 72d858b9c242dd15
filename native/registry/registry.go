package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	RoleGov         = "gov"
	RoleLiquidator  = "liquidator"
	RoleReservePool = "reservePool"
	RoleShutdown    = "shutdown"
	// RoleAny matches every caller. It is only meaningful as a requirement,
	// never as a granted role.
	RoleAny = "*"
)

var (
	errNilState    = errors.New("registry: state not configured")
	errEmptyRole   = errors.New("registry: role required")
	errZeroAddress = errors.New("registry: zero address")
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type roleRecord struct {
	Role    string
	Address common.Address
}

// Registry resolves which addresses hold which protocol roles. Grants are
// persisted through the configured state accessor and cached in memory.
type Registry struct {
	mu    sync.RWMutex
	state registryState
	cache map[string]bool
}

func New(state registryState) *Registry {
	return &Registry{state: state, cache: make(map[string]bool)}
}

func normalizeRole(role string) string {
	return strings.TrimSpace(role)
}

func roleKey(role string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("registry/role/%s/%s", role, strings.ToLower(addr.Hex())))
}

// SetupAddress grants role to addr.
func (r *Registry) SetupAddress(role string, addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	role = normalizeRole(role)
	if role == "" || role == RoleAny {
		return errEmptyRole
	}
	if addr == (common.Address{}) {
		return errZeroAddress
	}
	key := roleKey(role, addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.KVPut(key, roleRecord{Role: role, Address: addr}); err != nil {
		return err
	}
	r.cache[string(key)] = true
	return nil
}

// RemoveAddress revokes role from addr. Revoking an absent grant is a no-op.
func (r *Registry) RemoveAddress(role string, addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	role = normalizeRole(role)
	if role == "" {
		return errEmptyRole
	}
	key := roleKey(role, addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.KVDelete(key); err != nil {
		return err
	}
	r.cache[string(key)] = false
	return nil
}

// HasRole reports whether addr holds role. Lookup failures are treated as a
// missing grant.
func (r *Registry) HasRole(addr common.Address, role string) bool {
	if r == nil {
		return false
	}
	role = normalizeRole(role)
	if role == RoleAny {
		return true
	}
	if role == "" || r.state == nil {
		return false
	}
	key := roleKey(role, addr)
	r.mu.RLock()
	granted, cached := r.cache[string(key)]
	r.mu.RUnlock()
	if cached {
		return granted
	}
	var record roleRecord
	ok, err := r.state.KVGet(key, &record)
	granted = err == nil && ok && record.Address == addr
	r.mu.Lock()
	r.cache[string(key)] = granted
	r.mu.Unlock()
	return granted
}
