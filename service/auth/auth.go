// Package auth 注册、登录与会话校验
package auth

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

// Domain 路由键领域
const Domain = "auth"

// Option 处理器选项
type Option func(*handlers)

// WithPasswordCost 设置 bcrypt 代价，测试中使用 bcrypt.MinCost
func WithPasswordCost(cost int) Option {
	return func(h *handlers) { h.cost = cost }
}

type handlers struct {
	deps     service.Deps
	users    *document.Collection[service.UserRecord]
	sessions *document.Collection[contract.Session]
	cost     int
}

// Register 注册 auth 领域的全部处理器
func Register(reg *rpc.Registry, deps service.Deps, opts ...Option) error {
	deps, err := deps.WithDefaults("service.auth")
	if err != nil {
		return err
	}
	h := &handlers{
		deps:     deps,
		users:    service.Users(deps.Store),
		sessions: service.Sessions(deps.Store),
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(h)
	}

	return validation.First(
		rpc.Route(reg, contract.AuthRegister, h.register),
		rpc.Route(reg, contract.AuthLogin, h.login),
		rpc.Route(reg, contract.AuthValidateToken, h.validateToken),
		rpc.Route(reg, contract.AuthLogout, h.logout),
	)
}

func (h *handlers) register(ctx context.Context, req contract.RegisterRequest) (rpc.Result, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := req.Role
	if role == "" {
		role = contract.RoleUser
	}
	if err := validation.First(
		validation.Required(req.Username, "username"),
		validation.Length(req.Username, "username", 3, 50),
		validation.Email(email),
		validation.Password(req.Password),
		validation.Enum(role, "role", contract.RoleUser, contract.RoleOrganizer),
	); err != nil {
		return rpc.FromError(err), nil
	}

	for field, value := range map[string]string{"email": email, "username": req.Username} {
		_, err := h.users.FindOne(ctx, map[string]any{field: value})
		if err == nil {
			return rpc.BadRequest(field + " already registered"), nil
		}
		if !stdErrors.Is(err, document.ErrNotFound) {
			return rpc.Result{}, errors.WrapStoreError(ctx, err, "find user by "+field)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		return rpc.Result{}, err
	}
	id, err := h.deps.IDs.NextString()
	if err != nil {
		return rpc.Result{}, err
	}

	user := service.UserRecord{
		User: contract.User{
			ID:        id,
			Username:  req.Username,
			Email:     email,
			Role:      role,
			CreatedAt: h.deps.Now(),
		},
		PasswordHash: string(hash),
	}
	if err := h.users.Save(ctx, id, user); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save user")
	}

	h.sendConfirmation(ctx, user.User)
	return rpc.Message("user registered successfully"), nil
}

// sendConfirmation 经通知服务发送确认邮件，失败只记录日志
func (h *handlers) sendConfirmation(ctx context.Context, user contract.User) {
	if h.deps.Notifier == nil {
		return
	}
	op := contract.NotificationSend
	err := h.deps.Notifier.Notify(ctx, op.Exchange(), op.Key().String(), contract.SendEmailRequest{
		UserID:  user.ID,
		To:      user.Email,
		Subject: "Welcome to Booking",
		Body:    "Hello " + user.Username + ",\nyour account has been created.",
	})
	if err != nil {
		h.deps.Logger.Warn(ctx, "confirmation email not queued",
			logging.String("user_id", user.ID), logging.Error(err))
	}
}

func (h *handlers) login(ctx context.Context, req contract.LoginRequest) (rpc.Result, error) {
	const invalid = "invalid email or password"

	user, err := h.users.FindOne(ctx, map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))})
	if stdErrors.Is(err, document.ErrNotFound) {
		return rpc.Unauthorized(invalid), nil
	}
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "find user by email")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return rpc.Unauthorized(invalid), nil
	}

	session := contract.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		ExpiresAt: h.deps.Now().Add(h.deps.SessionTTL),
	}
	if err := h.sessions.Save(ctx, session.Token, session); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save session")
	}
	return rpc.NestedResult(rpc.TagInformations, session)
}

func (h *handlers) validateToken(ctx context.Context, req contract.TokenRequest) (rpc.Result, error) {
	if req.Token == "" {
		return rpc.Unauthorized("missing token"), nil
	}
	session, miss, err := service.Lookup(ctx, h.sessions, req.Token, "session")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return rpc.Unauthorized("invalid token"), nil
	}
	if !h.deps.Now().Before(session.ExpiresAt) {
		if _, err := h.sessions.Delete(ctx, req.Token); err != nil {
			return rpc.Result{}, errors.WrapStoreError(ctx, err, "delete session")
		}
		return rpc.Unauthorized("token expired"), nil
	}

	// 角色以用户当前记录为准，用户已删除时会话失效
	user, miss, err := service.Lookup(ctx, h.users, session.UserID, "user")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return rpc.Unauthorized("invalid token"), nil
	}
	session.Role = user.Role
	session.Username = user.Username
	return rpc.NestedResult(rpc.TagInformations, session)
}

func (h *handlers) logout(ctx context.Context, req contract.TokenRequest) (rpc.Result, error) {
	if req.Token == "" {
		return rpc.Unauthorized("missing token"), nil
	}
	deleted, err := h.sessions.Delete(ctx, req.Token)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "delete session")
	}
	if !deleted {
		return rpc.Warning("session already closed"), nil
	}
	return rpc.Message("logged out"), nil
}
