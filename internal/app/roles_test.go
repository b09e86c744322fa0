package app

import (
	"errors"
	"testing"
)

func TestNewRoleRegistrySeedsOperator(t *testing.T) {
	registry := NewRoleRegistry("acc_operator")

	for _, role := range []Role{RoleAdmin, RoleMinter, RoleBurner, RoleFeeController} {
		if !registry.HasRole("acc_operator", role) {
			t.Errorf("operator missing seeded role %s", role)
		}
	}
	if registry.HasRole("acc_other", RoleAdmin) {
		t.Error("unexpected grant for unrelated account")
	}
}

func TestRoleRegistryGrantRevoke(t *testing.T) {
	registry := NewRoleRegistry("acc_operator")

	registry.Grant("acc_bob", RoleMinter)
	if !registry.HasRole("acc_bob", RoleMinter) {
		t.Fatal("granted role not held")
	}
	if registry.HasRole("acc_bob", RoleBurner) {
		t.Error("unrelated role held")
	}

	// Revoking an absent role is a no-op.
	registry.Revoke("acc_bob", RoleBurner)
	if !registry.HasRole("acc_bob", RoleMinter) {
		t.Error("revoking an absent role removed a held one")
	}

	registry.Revoke("acc_bob", RoleMinter)
	if registry.HasRole("acc_bob", RoleMinter) {
		t.Error("revoked role still held")
	}
}

func TestRequireRole(t *testing.T) {
	registry := NewRoleRegistry("acc_operator")

	if err := registry.RequireRole("acc_operator", RoleFeeController); err != nil {
		t.Fatalf("RequireRole for holder failed: %v", err)
	}
	if err := registry.RequireRole("acc_bob", RoleFeeController); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		raw     string
		want    Role
		wantErr bool
	}{
		{raw: "ADMIN", want: RoleAdmin},
		{raw: "admin", want: RoleAdmin},
		{raw: " fee_controller ", want: RoleFeeController},
		{raw: "MINTER", want: RoleMinter},
		{raw: "BURNER", want: RoleBurner},
		{raw: "OWNER", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseRole(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownRole) {
				t.Errorf("ParseRole(%q) err = %v, want ErrUnknownRole", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q) failed: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}
