package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

// Session 登录会话
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Actor 会话对应的调用者
func (s Session) Actor() Actor {
	return Actor{UserID: s.UserID, Role: s.Role}
}

var (
	AuthRegister      = rpc.Flat[RegisterRequest]("auth.register")
	AuthLogin         = rpc.Nested[LoginRequest, Session]("auth.login", rpc.TagInformations)
	AuthValidateToken = rpc.Nested[TokenRequest, Session]("auth.validateToken", rpc.TagInformations)
	AuthLogout        = rpc.Flat[TokenRequest]("auth.logout")
)
