package service

import "testing"

func TestResolvePrimaryRolePicksHighestPriority(t *testing.T) {
	cfg := RoleMappingConfig{
		GroupToRole: map[string]string{"A": "Manager", "B": "Staff"},
		Priority:    []string{"Admin", "Manager", "Staff", "Customer"},
		Fallback:    "Customer",
	}
	got := ResolvePrimaryRole([]string{"B", "A"}, cfg)
	if got != "Manager" {
		t.Fatalf("expected Manager, got %q", got)
	}
}

func TestResolvePrimaryRoleFallbackWhenNothingMapped(t *testing.T) {
	cfg := DefaultRoleMappingConfig()
	if got := ResolvePrimaryRole([]string{"Chess Club", "Coffee Fans"}, cfg); got != "Customer" {
		t.Fatalf("expected fallback Customer, got %q", got)
	}
	if got := ResolvePrimaryRole(nil, cfg); got != "Customer" {
		t.Fatalf("expected fallback Customer for empty groups, got %q", got)
	}
}

func TestResolvePrimaryRoleCaseInsensitive(t *testing.T) {
	cfg := DefaultRoleMappingConfig()
	got := ResolvePrimaryRole([]string{"domain admins"}, cfg)
	if got != "Administrator" {
		t.Fatalf("expected Administrator, got %q", got)
	}
}

func TestResolvePrimaryRoleDeduplicates(t *testing.T) {
	cfg := RoleMappingConfig{
		GroupToRole: map[string]string{"A": "Manager", "B": "Manager"},
		Priority:    []string{"Manager"},
		Fallback:    "Customer",
	}
	if got := ResolvePrimaryRole([]string{"A", "B", "a"}, cfg); got != "Manager" {
		t.Fatalf("expected Manager, got %q", got)
	}
}

// A role mapped from a group but absent from the priority list must still log
// the user in with a deterministic role, never block the login.
func TestResolvePriorityGapFallsOpen(t *testing.T) {
	cfg := RoleMappingConfig{
		GroupToRole: map[string]string{"X": "Auditor", "Y": "Billing"},
		Priority:    []string{"Administrator", "Manager"},
		Fallback:    "Customer",
	}
	if got := ResolvePrimaryRole([]string{"Y", "X"}, cfg); got != "Auditor" {
		t.Fatalf("expected first mapped role in sorted order (Auditor), got %q", got)
	}
}
