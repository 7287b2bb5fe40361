// Package contract 网关与各服务共享的请求/响应类型与操作定义
//
// 每个操作绑定一个路由键与回复形态，网关以 rpc.Invoke 调用，服务以 rpc.Route 注册。
package contract

// 角色
const (
	RoleUser      = "user"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// Actor 发起请求的已认证用户，由网关根据会话填充
type Actor struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// IsAdmin 是否管理员
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Owns 是否本人或管理员
func (a Actor) Owns(userID string) bool {
	return a.IsAdmin() || (a.UserID != "" && a.UserID == userID)
}

// PageRequest 分页参数，页码从 0 开始
type PageRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// PageInfo 分页结果元数据
type PageInfo struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}
