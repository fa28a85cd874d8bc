package rbac

import "testing"

func TestCanMatrix(t *testing.T) {
	tests := []struct {
		role       Role
		permission string
		want       bool
	}{
		{RoleSupport, PermViewSubmissions, true},
		{RoleSupport, PermApproveSubmissions, false},
		{RoleModerator, PermApproveSubmissions, true},
		{RoleModerator, PermManageSubmissions, false},
		{RoleAdmin, PermManageSubmissions, true},
		{RoleSuperAdmin, "anything_new", true},
		{Role("intern"), PermViewSubmissions, false},
	}

	for _, tc := range tests {
		if got := Can(tc.role, tc.permission); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.role, tc.permission, got, tc.want)
		}
	}
}

func TestNormalizeFallsBackToSupport(t *testing.T) {
	if got := Normalize("owner"); got != RoleSupport {
		t.Fatalf("expected unknown role to normalize to support, got %s", got)
	}
	if got := Normalize("moderator"); got != RoleModerator {
		t.Fatalf("expected moderator, got %s", got)
	}
}

func TestPermissionsReturnsCopy(t *testing.T) {
	perms := Permissions(RoleAdmin)
	perms[0] = "mutated"
	if Permissions(RoleAdmin)[0] == "mutated" {
		t.Fatal("expected Permissions to return a fresh slice")
	}
}
