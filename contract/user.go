package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// User 对外展示的用户信息，不含密码
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type GetUserRequest struct {
	Actor  Actor  `json:"actor"`
	UserID string `json:"userId"`
}

// UpdateUserRequest 空字段表示不修改；Role 仅管理员可改
type UpdateUserRequest struct {
	Actor    Actor  `json:"actor"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

type DeleteUserRequest struct {
	Actor  Actor  `json:"actor"`
	UserID string `json:"userId"`
}

type ListUsersRequest struct {
	Actor Actor `json:"actor"`
	PageRequest
}

type UserPage struct {
	Users []User `json:"users"`
	PageInfo
}

const TagUser = "user"
const TagUsers = "users"

var (
	UserGet    = rpc.Nested[GetUserRequest, User]("user.getUser", TagUser)
	UserUpdate = rpc.Flat[UpdateUserRequest]("user.updateUser")
	UserDelete = rpc.Flat[DeleteUserRequest]("user.deleteUser")
	UserList   = rpc.Nested[ListUsersRequest, UserPage]("user.listUsers", TagUsers)
)
