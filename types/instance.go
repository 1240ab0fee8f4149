package types

import (
	"regexp"
	"strings"
)

// Role agent 角色
type Role string

const (
	RoleClaude  Role = "claude"
	RoleCodex   Role = "codex"
	RoleUnknown Role = "unknown"
)

// Status 在线状态
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// reservedInstanceName 与共享协调频道同名，不能作为实例名
const reservedInstanceName = "coordination"

// ValidInstanceName 检查实例名是否可作为地址
func ValidInstanceName(name string) bool {
	return name != reservedInstanceName && instanceNamePattern.MatchString(name)
}

// RoleOf 按命名约定（子串匹配）推导角色
func RoleOf(name string) Role {
	switch {
	case strings.Contains(name, string(RoleClaude)):
		return RoleClaude
	case strings.Contains(name, string(RoleCodex)):
		return RoleCodex
	default:
		return RoleUnknown
	}
}

// HostOf 返回第一个 "-" 之后的部署站点部分
func HostOf(name string) string {
	_, host, ok := strings.Cut(name, "-")
	if !ok {
		return ""
	}
	return host
}

// PeerOf 返回同一站点上另一角色的实例名
func PeerOf(name string, role Role) string {
	host := HostOf(name)
	if host == "" {
		return string(role)
	}
	return string(role) + "-" + host
}
