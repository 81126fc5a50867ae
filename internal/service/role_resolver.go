package service

import (
	"sort"
	"strings"
)

// RoleMappingConfig maps external directory group names onto application role
// names, with an ordered priority list that picks one primary role when a
// principal belongs to several mapped groups.
type RoleMappingConfig struct {
	GroupToRole map[string]string
	// Priority order matters: the first entry matched against the mapped set
	// wins. Comparison is case-insensitive.
	Priority []string
	// Fallback is returned when none of the principal's groups are mapped.
	Fallback string
}

func DefaultRoleMappingConfig() RoleMappingConfig {
	return RoleMappingConfig{
		GroupToRole: map[string]string{
			"Domain Admins":  "Administrator",
			"Hotel Managers": "Manager",
			"Front Desk":     "Receptionist",
			"Hotel Guests":   "Customer",
		},
		Priority: []string{"Administrator", "Manager", "Receptionist", "Customer"},
		Fallback: "Customer",
	}
}

// ResolvePrimaryRole maps the principal's groups to application roles and
// picks one. Unmapped groups are dropped. When the mapped set intersects the
// priority list nowhere, the first mapped role in sorted order is returned
// rather than failing: a login is never blocked by a mapping gap.
func ResolvePrimaryRole(groups []string, cfg RoleMappingConfig) string {
	mapped := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, group := range groups {
		role, ok := lookupGroup(cfg.GroupToRole, group)
		if !ok {
			continue
		}
		key := strings.ToLower(role)
		if seen[key] {
			continue
		}
		seen[key] = true
		mapped = append(mapped, role)
	}
	if len(mapped) == 0 {
		return cfg.Fallback
	}
	for _, candidate := range cfg.Priority {
		if seen[strings.ToLower(candidate)] {
			return candidate
		}
	}
	sort.Strings(mapped)
	return mapped[0]
}

func lookupGroup(mapping map[string]string, group string) (string, bool) {
	if role, ok := mapping[group]; ok {
		return role, true
	}
	for k, role := range mapping {
		if strings.EqualFold(k, group) {
			return role, true
		}
	}
	return "", false
}
