package auth

// Resource types covered by the permission catalog.
const (
	ResourceUser   = "user"
	ResourceServer = "server"
	ResourceGroup  = "group"
)

// Actions. CRUD applies to every resource; the operational actions apply to
// servers and server groups only.
const (
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionConsole = "console"
	ActionLogs    = "logs"
)

// SuperAdminRole names the built-in system role seeded alongside the
// catalog. The IsSuperAdmin flag on the user record is what actually
// short-circuits permission checks; the role marks the account in listings.
const SuperAdminRole = "super_admin"

// BuiltinPermissions is the immutable catalog seeded at startup.
var BuiltinPermissions = buildCatalog()

func buildCatalog() []Permission {
	crud := []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	ops := []string{ActionStart, ActionStop, ActionRestart, ActionConsole, ActionLogs}

	var perms []Permission
	add := func(resource string, actions []string) {
		for _, action := range actions {
			perms = append(perms, Permission{
				Name:        PermissionName(resource, action),
				Resource:    resource,
				Action:      action,
				Description: "Allows " + action + " on " + resource + " resources",
			})
		}
	}
	add(ResourceUser, crud)
	add(ResourceServer, crud)
	add(ResourceServer, ops)
	add(ResourceGroup, crud)
	add(ResourceGroup, ops)
	return perms
}

// PermissionName builds the canonical "<resource>:<action>" name.
func PermissionName(resource, action string) string {
	return resource + ":" + action
}
