// Package user 用户资料的查询与维护
package user

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

const Domain = "user"

type handlers struct {
	deps     service.Deps
	users    *document.Collection[service.UserRecord]
	sessions *document.Collection[contract.Session]
}

// Register 注册 user 领域的全部处理器
func Register(reg *rpc.Registry, deps service.Deps) error {
	deps, err := deps.WithDefaults("service.user")
	if err != nil {
		return err
	}
	h := &handlers{
		deps:     deps,
		users:    service.Users(deps.Store),
		sessions: service.Sessions(deps.Store),
	}
	return validation.First(
		rpc.Route(reg, contract.UserGet, h.getUser),
		rpc.Route(reg, contract.UserUpdate, h.updateUser),
		rpc.Route(reg, contract.UserDelete, h.deleteUser),
		rpc.Route(reg, contract.UserList, h.listUsers),
	)
}

func (h *handlers) getUser(ctx context.Context, req contract.GetUserRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if !req.Actor.Owns(req.UserID) {
		return rpc.Forbidden("you can only view your own profile"), nil
	}
	user, miss, err := service.Lookup(ctx, h.users, req.UserID, "user")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}
	return rpc.NestedResult(contract.TagUser, user.User)
}

func (h *handlers) updateUser(ctx context.Context, req contract.UpdateUserRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if !req.Actor.Owns(req.UserID) {
		return rpc.Forbidden("you can only update your own profile"), nil
	}
	if req.Role != "" && !req.Actor.IsAdmin() {
		return rpc.Forbidden("only administrators can change roles"), nil
	}
	if req.Username == "" && req.Email == "" && req.Role == "" {
		return rpc.BadRequest("nothing to update"), nil
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var checks []error
	if req.Username != "" {
		checks = append(checks, validation.Length(req.Username, "username", 3, 50))
	}
	if email != "" {
		checks = append(checks, validation.Email(email))
	}
	if req.Role != "" {
		checks = append(checks, validation.Enum(req.Role, "role", contract.RoleUser, contract.RoleOrganizer, contract.RoleAdmin))
	}
	if err := validation.First(checks...); err != nil {
		return rpc.FromError(err), nil
	}

	user, miss, err := service.Lookup(ctx, h.users, req.UserID, "user")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}

	if email != "" && email != user.Email {
		taken, err := h.taken(ctx, "email", email)
		if err != nil {
			return rpc.Result{}, err
		}
		if taken {
			return rpc.BadRequest("email already registered"), nil
		}
		user.Email = email
	}
	if req.Username != "" && req.Username != user.Username {
		taken, err := h.taken(ctx, "username", req.Username)
		if err != nil {
			return rpc.Result{}, err
		}
		if taken {
			return rpc.BadRequest("username already registered"), nil
		}
		user.Username = req.Username
	}
	if req.Role != "" {
		user.Role = req.Role
	}

	if err := h.users.Save(ctx, user.ID, user); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save user")
	}
	return rpc.Message("user updated successfully"), nil
}

func (h *handlers) taken(ctx context.Context, field, value string) (bool, error) {
	_, err := h.users.FindOne(ctx, map[string]any{field: value})
	if err == nil {
		return true, nil
	}
	if stdErrors.Is(err, document.ErrNotFound) {
		return false, nil
	}
	return false, errors.WrapStoreError(ctx, err, "find user by "+field)
}

func (h *handlers) deleteUser(ctx context.Context, req contract.DeleteUserRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if !req.Actor.Owns(req.UserID) {
		return rpc.Forbidden("you can only delete your own account"), nil
	}
	deleted, err := h.users.Delete(ctx, req.UserID)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "delete user")
	}
	if !deleted {
		return rpc.NotFound("user not found"), nil
	}

	// 删除用户时一并关闭其会话
	sessions, _, err := h.sessions.Find(ctx, document.Query{Filter: map[string]any{"userId": req.UserID}})
	if err != nil {
		h.deps.Logger.Warn(ctx, "sessions of deleted user not closed",
			logging.String("user_id", req.UserID), logging.Error(err))
	}
	for _, s := range sessions {
		if _, err := h.sessions.Delete(ctx, s.Token); err != nil {
			return rpc.Result{}, errors.WrapStoreError(ctx, err, "delete session")
		}
	}
	return rpc.Message("user deleted successfully"), nil
}

func (h *handlers) listUsers(ctx context.Context, req contract.ListUsersRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if !req.Actor.IsAdmin() {
		return rpc.Forbidden("only administrators can list users"), nil
	}
	q, err := service.PageQuery(req.PageRequest)
	if err != nil {
		return rpc.FromError(err), nil
	}
	q.SortBy = "username"

	records, total, err := h.users.Find(ctx, q)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "list users")
	}
	page := contract.UserPage{Users: make([]contract.User, 0, len(records)), PageInfo: service.PageInfo(q, total)}
	for _, r := range records {
		page.Users = append(page.Users, r.User)
	}
	return rpc.NestedResult(contract.TagUsers, page)
}
