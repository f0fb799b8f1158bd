package auth

import "errors"

var ErrUnauthorized = errors.New("unauthorized: insufficient permissions")

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

const (
	PermissionViewTargets  = "targets:read"
	PermissionScan         = "scan:read"
	PermissionTriggerClean = "clean:trigger"
	PermissionViewHistory  = "history:read"
	PermissionEmptyBin     = "recycle_bin:empty"
)

// Each role extends the one below it. Emptying the Recycle Bin is
// irreversible, so only admins get it.
var (
	viewerPerms   = []string{PermissionViewTargets, PermissionScan, PermissionViewHistory}
	operatorPerms = append(append([]string{}, viewerPerms...), PermissionTriggerClean)
	adminPerms    = append(append([]string{}, operatorPerms...), PermissionEmptyBin)
)

var rolePerms = map[string]map[string]bool{
	RoleViewer:   set(viewerPerms),
	RoleOperator: set(operatorPerms),
	RoleAdmin:    set(adminPerms),
}

func set(perms []string) map[string]bool {
	m := make(map[string]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePerms[role]
	return ok
}

// HasPermission reports whether any of roles grants perm. Unknown roles
// grant nothing.
func HasPermission(roles []string, perm string) bool {
	for _, r := range roles {
		if rolePerms[r][perm] {
			return true
		}
	}
	return false
}

// RequirePermission returns a check against claims for perm.
func RequirePermission(perm string) func(*Claims) error {
	return func(claims *Claims) error {
		if claims == nil || !HasPermission(claims.Roles, perm) {
			return ErrUnauthorized
		}
		return nil
	}
}
