package domain

import "strings"

// Role описывает права участника команды модерации.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleReviewer  Role = "reviewer"
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:    0,
	RoleReviewer:  1,
	RolePublisher: 2,
	RoleAdmin:     3,
}

// ParseRole приводит строку к роли. Неизвестные значения считаются viewer.
func ParseRole(raw string) Role {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleRank[role]; ok {
		return role
	}
	return RoleViewer
}

// Permission — действие, требующее минимальной роли.
type Permission string

const (
	PermRead     Permission = "read"
	PermStartJob Permission = "start_job"
	PermDraft    Permission = "draft"
	PermReview   Permission = "review"
	PermPublish  Permission = "publish"
)

var permissionRole = map[Permission]Role{
	PermRead:     RoleViewer,
	PermStartJob: RoleReviewer,
	PermDraft:    RoleReviewer,
	PermReview:   RoleReviewer,
	PermPublish:  RolePublisher,
}

// Allows сообщает, достаточно ли роли для действия.
func (r Role) Allows(p Permission) bool {
	need, ok := permissionRole[p]
	if !ok {
		return r == RoleAdmin
	}
	return roleRank[ParseRole(string(r))] >= roleRank[need]
}
