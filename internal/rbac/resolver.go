// Package rbac decides whether a principal may perform an action.
package rbac

import (
	"fmt"
	"strings"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

// Wildcard grants every permission.
const Wildcard = "*"

// actionMap translates the action half of a "resource:action" token into the
// capability stored in role permission sets. manage is resolved per resource.
var actionMap = map[string]string{
	"read":   "read",
	"create": "write",
	"update": "write",
	"delete": "delete",
}

// ManagePermission returns the capability that grants every action on resource.
func ManagePermission(resource string) string {
	return "manage_" + resource
}

// HasPermission reports whether p holds token.
//
// super_admin and the wildcard always pass. A bare capability ("read",
// "manage_users") needs a direct match. For "resource:action" the mapped
// capability is checked first, then manage_<resource>. Unknown actions are
// denied.
func HasPermission(p *auth.Principal, token string) bool {
	if p == nil {
		return false
	}
	if p.Role == auth.RoleSuperAdmin || p.Has(Wildcard) {
		return true
	}

	resource, action, ok := strings.Cut(token, ":")
	if !ok {
		return p.Has(token)
	}

	var mapped string
	if action == "manage" {
		mapped = ManagePermission(resource)
	} else if mapped, ok = actionMap[action]; !ok {
		return false
	}
	return p.Has(mapped) || p.Has(ManagePermission(resource))
}

// ValidateToken checks that token is a well-formed permission token: the
// wildcard, a bare capability, or "resource:action".
func ValidateToken(token string) error {
	if token == Wildcard {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: empty permission", apperr.ErrValidation)
	}
	if strings.Count(token, ":") > 1 {
		return fmt.Errorf("%w: permission %q has more than one separator", apperr.ErrValidation, token)
	}
	for _, part := range strings.Split(token, ":") {
		if part == "" {
			return fmt.Errorf("%w: permission %q has an empty segment", apperr.ErrValidation, token)
		}
		for _, c := range part {
			if !validTokenChar(c) {
				return fmt.Errorf("%w: permission %q contains %q", apperr.ErrValidation, token, c)
			}
		}
	}
	return nil
}

func validTokenChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '.' || c == '-'
}
