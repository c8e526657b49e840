package rbac

// 权限常量
const (
	PermissionReadPhase       = "phase:read"
	PermissionTransitionPhase = "phase:transition"
	PermissionCreateGate      = "gate:create"
	PermissionInspectGate     = "gate:inspect"
	PermissionReportDefect    = "defect:report"
	PermissionResolveDefect   = "defect:resolve"
	PermissionReplayOutbox    = "admin:outbox"
)

// 角色常量
const (
	RoleViewer    = "viewer"
	RoleInspector = "inspector"
	RoleManager   = "manager"
	RoleAdmin     = "admin"
)

var viewerPermissions = []string{
	PermissionReadPhase,
}

var inspectorPermissions = append(append([]string{}, viewerPermissions...),
	PermissionInspectGate,
	PermissionReportDefect,
)

var managerPermissions = append(append([]string{}, inspectorPermissions...),
	PermissionTransitionPhase,
	PermissionCreateGate,
	PermissionResolveDefect,
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer:    viewerPermissions,
	RoleInspector: inspectorPermissions,
	RoleManager:   managerPermissions,
	RoleAdmin:     append(append([]string{}, managerPermissions...), PermissionReplayOutbox),
}

// ValidRole 判断角色是否已定义
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID string, role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
