// Package auth implements the role capability every state mutation must carry.
package auth

import (
	"sort"
	"strings"

	"PoolLedger/internal/errs"
)

type Role string

const (
	RoleController        Role = "CONTROLLER"
	RoleOrderKeeper       Role = "ORDER_KEEPER"
	RoleFrozenOrderKeeper Role = "FROZEN_ORDER_KEEPER"
	RoleLiquidationKeeper Role = "LIQUIDATION_KEEPER"
	RoleAdlKeeper         Role = "ADL_KEEPER"
	RoleConfigKeeper      Role = "CONFIG_KEEPER"
	RoleMarketKeeper      Role = "MARKET_KEEPER"
	RoleFeeKeeper         Role = "FEE_KEEPER"
)

var ErrUnauthorized = errs.New(errs.ErrValidation, "unauthorized")

// Capability names the caller of an engine call and the roles granted to it.
// The zero value holds no roles.
type Capability struct {
	Caller string
	roles  map[Role]struct{}
}

func NewCapability(caller string, roles ...Role) Capability {
	c := Capability{Caller: caller, roles: make(map[Role]struct{}, len(roles))}
	for _, r := range roles {
		c.roles[r] = struct{}{}
	}
	return c
}

func (c Capability) Has(r Role) bool {
	_, ok := c.roles[r]
	return ok
}

// Require fails with ErrUnauthorized unless the capability holds r.
func (c Capability) Require(r Role) error {
	if !c.Has(r) {
		return errs.Wrap(ErrUnauthorized, "caller %q lacks role %s", c.Caller, r)
	}
	return nil
}

// RequireAny fails unless the capability holds at least one of roles.
func (c Capability) RequireAny(roles ...Role) error {
	for _, r := range roles {
		if c.Has(r) {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return errs.Wrap(ErrUnauthorized, "caller %q lacks any of [%s]", c.Caller, strings.Join(names, ","))
}

// Roles returns the granted roles in sorted order.
func (c Capability) Roles() []Role {
	out := make([]Role, 0, len(c.roles))
	for r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRole maps a role name from configuration to a Role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleController, RoleOrderKeeper, RoleFrozenOrderKeeper, RoleLiquidationKeeper,
		RoleAdlKeeper, RoleConfigKeeper, RoleMarketKeeper, RoleFeeKeeper:
		return r, true
	}
	return "", false
}
