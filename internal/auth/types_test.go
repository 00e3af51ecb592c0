package auth

import "testing"

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		username string
		want     bool
	}{
		{"inspector", true},
		{"tech.2", true},
		{"site-ops_1", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
	}

	for _, tt := range tests {
		if got := IsValidUsername(tt.username); got != tt.want {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tt.username, got, tt.want)
		}
	}
}

func TestRole_Validity(t *testing.T) {
	if !IsValidRole(RoleViewer) || !IsValidRole(RoleOperator) {
		t.Error("built-in roles should be valid")
	}
	if IsValidRole(Role("admin")) {
		t.Error("unknown role should be invalid")
	}
}

func TestRole_CanMutate(t *testing.T) {
	if RoleViewer.CanMutate() {
		t.Error("viewer must not mutate")
	}
	if !RoleOperator.CanMutate() {
		t.Error("operator must mutate")
	}
}
