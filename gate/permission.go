package gate

import (
	"fmt"
	"strings"
)

// Permission represents an allowed action on a resource type.
// Format: "resource:action" (e.g., "besoin:validate", "caisse:view")
type Permission string

// NewPermission creates a permission from resource type and action.
func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// ParsePermission validates a "resource:action" string.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	res, act := p.Parse()
	if res == "" || act == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	return p, nil
}

// Parse splits a permission into resource type and action.
func (p Permission) Parse() (resourceType string, action Action) {
	parts := strings.SplitN(string(p), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], Action(parts[1])
}

// Wildcards for super permissions
const (
	WildcardAll                     = "*"
	PermissionSuperAdmin Permission = "*:*"
)

// Matches checks if this permission matches a requested permission.
// "*:*" matches all, "besoin:*" matches all besoin actions and
// "*:view" matches view on every resource.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Parse()
	reqRes, reqAct := requested.Parse()
	if reqRes == "" {
		return false
	}
	resOK := res == reqRes || res == WildcardAll
	actOK := act == reqAct || string(act) == WildcardAll
	return resOK && actOK
}
