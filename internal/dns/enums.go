package dns

import (
	mdns "github.com/miekg/dns"
)

// QueryType 查询类型（与长期数据库的 type 列保持一致，从 1 开始编号）
type QueryType int

const (
	TypeA QueryType = iota + 1
	TypeAAAA
	TypeANY
	TypeSRV
	TypeSOA
	TypePTR
	TypeTXT
	TypeMax // 边界哨兵，不是有效类型
)

// String 返回查询类型的字符串表示
func (t QueryType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeAAAA:
		return "AAAA"
	case TypeANY:
		return "ANY"
	case TypeSRV:
		return "SRV"
	case TypeSOA:
		return "SOA"
	case TypePTR:
		return "PTR"
	case TypeTXT:
		return "TXT"
	default:
		return "UNKNOWN"
	}
}

// Valid 检查类型是否在有效枚举范围内
func (t QueryType) Valid() bool {
	return t >= TypeA && t < TypeMax
}

// QueryTypeFromWire 将 DNS 报文中的 qtype 映射为内部查询类型，
// 不跟踪的类型返回 0
func QueryTypeFromWire(qtype uint16) QueryType {
	switch qtype {
	case mdns.TypeA:
		return TypeA
	case mdns.TypeAAAA:
		return TypeAAAA
	case mdns.TypeANY:
		return TypeANY
	case mdns.TypeSRV:
		return TypeSRV
	case mdns.TypeSOA:
		return TypeSOA
	case mdns.TypePTR:
		return TypePTR
	case mdns.TypeTXT:
		return TypeTXT
	default:
		return 0
	}
}

// QueryStatus 查询处理结果状态（与长期数据库的 status 列保持一致）
type QueryStatus int

const (
	StatusUnknown             QueryStatus = iota
	StatusGravity                         // 命中订阅拦截列表
	StatusForwarded                       // 已转发上游
	StatusCache                           // 缓存或本地配置应答
	StatusWildcard                        // 命中正则/通配规则
	StatusBlacklist                       // 命中手工黑名单
	StatusExternalBlockedIP               // 上游以已知拦截 IP 应答
	StatusExternalBlockedNull             // 上游以 0.0.0.0/:: 应答
	StatusExternalBlockedNXRA             // 上游以 NXDOMAIN+RA=0 应答
)

// statusMax 状态枚举上界（含），用于导入时的范围校验
const statusMax = StatusExternalBlockedNXRA

// Valid 检查状态是否在有效枚举范围内
func (s QueryStatus) Valid() bool {
	return s >= StatusUnknown && s <= statusMax
}

// Blocked 判断该状态是否计入"已拦截"
func (s QueryStatus) Blocked() bool {
	switch s {
	case StatusGravity, StatusBlacklist, StatusWildcard,
		StatusExternalBlockedIP, StatusExternalBlockedNull, StatusExternalBlockedNXRA:
		return true
	}
	return false
}

// String 返回状态的字符串表示（用于 API 与指标标签）
func (s QueryStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusGravity:
		return "gravity"
	case StatusForwarded:
		return "forwarded"
	case StatusCache:
		return "cache"
	case StatusWildcard:
		return "wildcard"
	case StatusBlacklist:
		return "blacklist"
	case StatusExternalBlockedIP:
		return "external_blocked_ip"
	case StatusExternalBlockedNull:
		return "external_blocked_null"
	case StatusExternalBlockedNXRA:
		return "external_blocked_nxra"
	default:
		return "invalid"
	}
}

// PrivacyLevel 隐私级别，控制查询是否被存储和统计
type PrivacyLevel int

const (
	PrivacyShowAll PrivacyLevel = iota
	PrivacyHideDomains
	PrivacyHideDomainsClients
	PrivacyMaximum // 达到该级别的记录永不落库、永不计入持久化统计
	PrivacyNoStats // 完全关闭统计，写回与导入整体跳过
)
