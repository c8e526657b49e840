package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		allowed    bool
	}{
		{RoleViewer, PermissionReadPhase, true},
		{RoleViewer, PermissionTransitionPhase, false},
		{RoleInspector, PermissionInspectGate, true},
		{RoleInspector, PermissionReportDefect, true},
		{RoleInspector, PermissionResolveDefect, false},
		{RoleManager, PermissionTransitionPhase, true},
		{RoleManager, PermissionCreateGate, true},
		{RoleManager, PermissionReplayOutbox, false},
		{RoleAdmin, PermissionReplayOutbox, true},
		{RoleAdmin, PermissionReadPhase, true},
		{"intruder", PermissionReadPhase, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			assert.Equal(t, tt.allowed, HasPermission(tt.role, tt.permission))
		})
	}
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission("u1", RoleManager, PermissionResolveDefect))

	err := CheckPermission("u1", RoleViewer, PermissionResolveDefect)
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, "u1", denied.UserID)
	assert.Equal(t, PermissionResolveDefect, denied.Permission)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleInspector))
	assert.False(t, ValidRole("root"))
}
