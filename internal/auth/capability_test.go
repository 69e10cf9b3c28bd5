package auth_test

import (
	"errors"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
)

func TestCapability_Require(t *testing.T) {
	c := auth.NewCapability("keeper-1", auth.RoleOrderKeeper, auth.RoleController)

	if err := c.Require(auth.RoleOrderKeeper); err != nil {
		t.Fatalf("expected role present: %v", err)
	}
	err := c.Require(auth.RoleAdlKeeper)
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("unauthorized should be a validation failure")
	}
}

func TestCapability_ZeroValueHasNoRoles(t *testing.T) {
	var c auth.Capability
	if c.Has(auth.RoleController) {
		t.Error("zero capability must hold no roles")
	}
	if err := c.RequireAny(auth.RoleController, auth.RoleOrderKeeper); err == nil {
		t.Error("expected error")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := auth.ParseRole(" order_keeper "); !ok || r != auth.RoleOrderKeeper {
		t.Errorf("got %q %v", r, ok)
	}
	if _, ok := auth.ParseRole("root"); ok {
		t.Error("unknown role accepted")
	}
}

func TestParseDirectory(t *testing.T) {
	d, err := auth.ParseDirectory("keeper-1=order_keeper, ADL_KEEPER; admin=CONFIG_KEEPER")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := d.Capability("keeper-1", auth.RoleController)
	for _, r := range []auth.Role{auth.RoleOrderKeeper, auth.RoleAdlKeeper, auth.RoleController} {
		if !c.Has(r) {
			t.Errorf("keeper-1 should hold %s", r)
		}
	}
	if c.Has(auth.RoleConfigKeeper) {
		t.Error("keeper-1 must not hold CONFIG_KEEPER")
	}
	if got := d.Capability("alice").Roles(); len(got) != 0 {
		t.Errorf("unknown caller got roles %v", got)
	}

	if _, err := auth.ParseDirectory("keeper-1=ROOT"); err == nil {
		t.Error("unknown role must fail")
	}
	if _, err := auth.ParseDirectory("=ORDER_KEEPER"); err == nil {
		t.Error("empty caller must fail")
	}
}
