package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"craftctrl.dev/internal/auth"
)

type createUserRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	IsActive     *bool  `json:"isActive"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	IsActive *bool   `json:"isActive"`
}

type createRoleRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permissionIds"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId"`
}

type grantRequest struct {
	Actions []string `json:"actions"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionRead)) {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	pageResult, err := a.svc.ListUsers(r.Context(), auth.ListUsersOptions{
		Page:   page,
		Limit:  limit,
		Search: strings.TrimSpace(q.Get("search")),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if pageResult.Users == nil {
		pageResult.Users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, pageResult)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionCreate)) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Only an existing super-admin may mint another one.
	if req.IsSuperAdmin {
		id, _ := auth.IdentityFromContext(r.Context())
		if !id.IsSuperAdmin {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	user, err := a.svc.CreateUser(r.Context(), auth.CreateUserParams{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		IsActive:     active,
		IsSuperAdmin: req.IsSuperAdmin,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "users.create", "user", user.ID, map[string]string{
		"username": user.Username,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.userByID(w, r, userID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.userPermissions(w, r, userID)
	case len(parts) == 2 && parts[1] == "force-password-change":
		a.forcePasswordChange(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.assignUserRole(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.removeUserRole(w, r, userID, parts[2])
	case len(parts) == 3 && parts[1] == "servers":
		a.userServerGrant(w, r, userID, parts[2])
	case len(parts) == 3 && parts[1] == "groups":
		a.userGroupGrant(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userByID(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensureSelfOrPermission(w, r, userID, auth.PermissionName(auth.ResourceUser, auth.ActionRead)) {
			return
		}
		user, err := a.svc.GetUser(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateUser(r.Context(), userID, auth.UserUpdate{
			Username: req.Username,
			Email:    req.Email,
			IsActive: req.IsActive,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "users.update", "user", userID, nil)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionDelete)) {
			return
		}
		if err := a.svc.DeleteUser(r.Context(), userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "users.delete", "user", userID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureSelfOrPermission(w, r, userID, auth.PermissionName(auth.ResourceUser, auth.ActionRead)) {
		return
	}
	eff, err := a.svc.Resolver().EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (a *API) forcePasswordChange(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
		return
	}
	if err := a.svc.ForcePasswordChange(r.Context(), userID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "users.force_password_change", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "roleId is required")
		return
	}
	caller, _ := auth.IdentityFromContext(r.Context())
	if err := a.svc.AssignRole(r.Context(), userID, req.RoleID, caller.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "users.assign_role", "user", userID, map[string]string{
		"role_id": req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
		return
	}
	if err := a.svc.RemoveRole(r.Context(), userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "users.remove_role", "user", userID, map[string]string{
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userServerGrant(w http.ResponseWriter, r *http.Request, userID, serverID string) {
	perm := auth.PermissionName(auth.ResourceServer, auth.ActionUpdate)
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermission(w, r, perm) {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		caller, _ := auth.IdentityFromContext(r.Context())
		if err := a.svc.GrantServer(r.Context(), userID, serverID, req.Actions, caller.UserID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "grants.server.set", "user", userID, map[string]string{
			"server_id": serverID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, perm) {
			return
		}
		if err := a.svc.RevokeServer(r.Context(), userID, serverID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "grants.server.revoke", "user", userID, map[string]string{
			"server_id": serverID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) userGroupGrant(w http.ResponseWriter, r *http.Request, userID, groupID string) {
	perm := auth.PermissionName(auth.ResourceGroup, auth.ActionUpdate)
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermission(w, r, perm) {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		caller, _ := auth.IdentityFromContext(r.Context())
		if err := a.svc.GrantGroup(r.Context(), userID, groupID, req.Actions, caller.UserID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "grants.group.set", "user", userID, map[string]string{
			"group_id": groupID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, perm) {
			return
		}
		if err := a.svc.RevokeGroup(r.Context(), userID, groupID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "grants.group.revoke", "user", userID, map[string]string{
			"group_id": groupID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.CreateRole(r.Context(), req.Name, req.Description, req.PermissionIDs)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "roles.create", "role", role.ID, map[string]string{
		"name": role.Name,
	})
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionRead)) {
			return
		}
		role, err := a.svc.GetRole(r.Context(), roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermissionName(auth.ResourceUser, auth.ActionUpdate)) {
			return
		}
		if err := a.svc.DeleteRole(r.Context(), roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "roles.delete", "role", roleID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := auth.IdentityFromContext(r.Context()); !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	perms, err := a.svc.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
