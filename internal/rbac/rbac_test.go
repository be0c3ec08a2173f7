package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "student read", role: RoleStudent, action: ActionRead, allow: true},
		{name: "student participate", role: RoleStudent, action: ActionParticipate, allow: true},
		{name: "student admin", role: RoleStudent, action: ActionAdmin, allow: false},
		{name: "admin read", role: RoleAdmin, action: ActionRead, allow: true},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleStudent {
		t.Fatalf("Normalize(superuser) = %q, want student fallback", got)
	}
}
