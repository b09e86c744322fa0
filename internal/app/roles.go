/**
 * @description
 * This file contains the in-process authorization registry used to gate the
 * engine's administrative surface. Roles are plain capability grants keyed
 * by account address; the deploying operator receives every role at
 * construction and can reassign them through the engine's admin methods.
 *
 * @dependencies
 * - errors, fmt, strings, sync: Standard Go libraries.
 */

package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role names a capability an account may hold.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleMinter        Role = "MINTER"
	RoleBurner        Role = "BURNER"
	RoleFeeController Role = "FEE_CONTROLLER"
)

// ErrUnauthorized is returned when a caller lacks the role a privileged
// operation requires.
var ErrUnauthorized = errors.New("caller is not authorized for this operation")

// ErrUnknownRole is returned for grant/revoke requests naming a role the
// registry does not recognize.
var ErrUnknownRole = errors.New("unknown role")

var allRoles = []Role{RoleAdmin, RoleMinter, RoleBurner, RoleFeeController}

// ParseRole normalizes a role string from an API payload.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, role := range allRoles {
		if candidate == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// RoleRegistry holds capability grants. It is owned by a single engine
// instance and mutated only through the engine's admin methods.
type RoleRegistry struct {
	mu     sync.RWMutex
	grants map[string]map[Role]struct{}
}

// NewRoleRegistry creates a registry with the operator account holding
// every role.
func NewRoleRegistry(operatorAccount string) *RoleRegistry {
	registry := &RoleRegistry{grants: make(map[string]map[Role]struct{})}
	for _, role := range allRoles {
		registry.grant(operatorAccount, role)
	}
	return registry
}

// HasRole reports whether the account holds the role.
func (r *RoleRegistry) HasRole(accountAddress string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[accountAddress][role]
	return ok
}

// RequireRole fails with ErrUnauthorized when the account lacks the role.
func (r *RoleRegistry) RequireRole(accountAddress string, role Role) error {
	if !r.HasRole(accountAddress, role) {
		return fmt.Errorf("%w: account %s requires role %s", ErrUnauthorized, accountAddress, role)
	}
	return nil
}

// Grant adds a role to an account. Granting an already-held role is a no-op.
func (r *RoleRegistry) Grant(accountAddress string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grant(accountAddress, role)
}

// Revoke removes a role from an account. Revoking an absent role is a no-op.
func (r *RoleRegistry) Revoke(accountAddress string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if held, ok := r.grants[accountAddress]; ok {
		delete(held, role)
		if len(held) == 0 {
			delete(r.grants, accountAddress)
		}
	}
}

func (r *RoleRegistry) grant(accountAddress string, role Role) {
	held, ok := r.grants[accountAddress]
	if !ok {
		held = make(map[Role]struct{})
		r.grants[accountAddress] = held
	}
	held[role] = struct{}{}
}
