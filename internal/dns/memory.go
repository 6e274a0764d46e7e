package dns

import (
	"log"
	"sync"
	"time"
)

// overTimeSlot 时间桶宽度（秒）
const overTimeSlot = 300

// Query 内存中的查询记录
type Query struct {
	Timestamp int64
	Type      QueryType
	Status    QueryStatus
	DomainID  int
	ClientID  int
	ForwardID int // -1 表示未转发
	TimeIdx   int
	DBID      int64 // 数据库行 ID，0 表示尚未落库
	Complete  bool
	Privacy   PrivacyLevel
}

// domainEntry 域名驻留表条目
type domainEntry struct {
	Name         string
	Count        int
	BlockedCount int
}

// clientEntry 客户端驻留表条目
type clientEntry struct {
	IP           string
	Count        int
	BlockedCount int
	LastQuery    int64
	OverTime     map[int]int // 每时间桶查询数
}

// forwardEntry 上游转发目标驻留表条目
type forwardEntry struct {
	IP    string
	Count int
}

// overTimeEntry 单个时间桶的聚合计数
type overTimeEntry struct {
	Total     int
	Blocked   int
	Forwarded int
	Cached    int
	QueryType [TypeMax - 1]int
}

// Counters 全局聚合计数
type Counters struct {
	Queries   int
	Blocked   int
	Cached    int
	Forwarded int
	Unknown   int
	QueryType [TypeMax - 1]int
}

// MemoryLog 共享内存查询日志及其派生聚合结构。
// 解析管线并发追加记录，写回引擎与启动导入在持有锁的
// 独占区内按索引访问，任何记录追加后不会被删除。
type MemoryLog struct {
	mu sync.Mutex

	queries []Query

	domains   []domainEntry
	domainIDs map[string]int

	clients   []clientEntry
	clientIDs map[string]int

	forwards   []forwardEntry
	forwardIDs map[string]int

	overTime map[int]*overTimeEntry

	counters Counters
}

// NewMemoryLog 创建空的共享内存日志
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		domainIDs:  make(map[string]int),
		clientIDs:  make(map[string]int),
		forwardIDs: make(map[string]int),
		overTime:   make(map[int]*overTimeEntry),
	}
}

// Lock 获取独占访问区
func (m *MemoryLog) Lock() { m.mu.Lock() }

// Unlock 释放独占访问区
func (m *MemoryLog) Unlock() { m.mu.Unlock() }

// Len 当前记录数（调用方需持有锁）
func (m *MemoryLog) Len() int { return len(m.queries) }

// Query 返回索引处记录的副本（调用方需持有锁）
func (m *MemoryLog) Query(i int) Query { return m.queries[i] }

// OverTimeID 计算时间戳所属的时间桶索引
func OverTimeID(timestamp int64) int {
	return int(timestamp / overTimeSlot)
}

// FindDomainID 查找或驻留域名，返回其 ID（调用方需持有锁）
func (m *MemoryLog) FindDomainID(domain string) int {
	if id, ok := m.domainIDs[domain]; ok {
		return id
	}
	id := len(m.domains)
	m.domains = append(m.domains, domainEntry{Name: domain})
	m.domainIDs[domain] = id
	return id
}

// FindClientID 查找或驻留客户端地址，返回其 ID（调用方需持有锁）
func (m *MemoryLog) FindClientID(client string) int {
	if id, ok := m.clientIDs[client]; ok {
		return id
	}
	id := len(m.clients)
	m.clients = append(m.clients, clientEntry{IP: client, OverTime: make(map[int]int)})
	m.clientIDs[client] = id
	return id
}

// FindForwardID 查找或驻留转发目标，返回其 ID（调用方需持有锁）
func (m *MemoryLog) FindForwardID(forward string) int {
	if id, ok := m.forwardIDs[forward]; ok {
		return id
	}
	id := len(m.forwards)
	m.forwards = append(m.forwards, forwardEntry{IP: forward})
	m.forwardIDs[forward] = id
	return id
}

// AppendQuery 追加一条新记录并计入追加时即可确定的聚合：
// 总数、类型计数、时间桶、客户端计数。状态相关聚合由
// SetStatus 统一完成，保证活跃处理与导入走同一条计数路径。
// 返回新记录的索引（调用方需持有锁）。
func (m *MemoryLog) AppendQuery(timestamp int64, qtype QueryType, domainID, clientID int, privacy PrivacyLevel) int {
	timeidx := OverTimeID(timestamp)
	idx := len(m.queries)
	m.queries = append(m.queries, Query{
		Timestamp: timestamp,
		Type:      qtype,
		Status:    StatusUnknown,
		DomainID:  domainID,
		ClientID:  clientID,
		ForwardID: -1,
		TimeIdx:   timeidx,
		Privacy:   privacy,
	})

	m.counters.Queries++
	m.counters.Unknown++

	if qtype.Valid() {
		m.counters.QueryType[qtype-1]++
		m.overTimeBucket(timeidx).QueryType[qtype-1]++
	}
	m.overTimeBucket(timeidx).Total++

	m.domains[domainID].Count++

	c := &m.clients[clientID]
	c.Count++
	c.OverTime[timeidx]++
	if timestamp > c.LastQuery {
		c.LastQuery = timestamp
	}

	return idx
}

// SetStatus 更新记录状态并完成状态相关的聚合增量。
// 状态为 forwarded 时需先通过 SetForward 设置转发目标。
// （调用方需持有锁）
func (m *MemoryLog) SetStatus(idx int, status QueryStatus) {
	q := &m.queries[idx]
	if q.Status == status {
		return
	}
	if q.Status == StatusUnknown {
		m.counters.Unknown--
	}
	q.Status = status

	bucket := m.overTimeBucket(q.TimeIdx)
	switch {
	case status.Blocked():
		m.counters.Blocked++
		bucket.Blocked++
		m.domains[q.DomainID].BlockedCount++
		m.clients[q.ClientID].BlockedCount++
	case status == StatusForwarded:
		m.counters.Forwarded++
		bucket.Forwarded++
		if q.ForwardID >= 0 {
			m.forwards[q.ForwardID].Count++
		}
	case status == StatusCache:
		m.counters.Cached++
		bucket.Cached++
	case status == StatusUnknown:
		m.counters.Unknown++
	default:
		log.Printf("memory: unexpected status %d at index %d", status, idx)
	}
}

// SetForward 记录转发目标（调用方需持有锁）
func (m *MemoryLog) SetForward(idx, forwardID int) {
	m.queries[idx].ForwardID = forwardID
}

// SetComplete 标记解析已完成（调用方需持有锁）
func (m *MemoryLog) SetComplete(idx int) {
	m.queries[idx].Complete = true
}

// MarkSaved 写回引擎专用：记录已分配的数据库行 ID（调用方需持有锁）
func (m *MemoryLog) MarkSaved(idx int, dbid int64) {
	m.queries[idx].DBID = dbid
}

// DomainString 返回记录的域名（调用方需持有锁）
func (m *MemoryLog) DomainString(idx int) string {
	return m.domains[m.queries[idx].DomainID].Name
}

// ClientString 返回记录的客户端地址（调用方需持有锁）
func (m *MemoryLog) ClientString(idx int) string {
	return m.clients[m.queries[idx].ClientID].IP
}

// ForwardString 返回记录的转发目标，未转发时为空串（调用方需持有锁）
func (m *MemoryLog) ForwardString(idx int) string {
	q := m.queries[idx]
	if q.ForwardID < 0 {
		return ""
	}
	return m.forwards[q.ForwardID].IP
}

func (m *MemoryLog) overTimeBucket(timeidx int) *overTimeEntry {
	b := m.overTime[timeidx]
	if b == nil {
		b = &overTimeEntry{}
		m.overTime[timeidx] = b
	}
	return b
}

// CountersSnapshot 返回全局计数的快照
func (m *MemoryLog) CountersSnapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// ClientActivity 返回客户端的累计查询数与最近活动时间，
// 未知客户端返回 (0, 0)
func (m *MemoryLog) ClientActivity(ip string) (int, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.clientIDs[ip]
	if !ok {
		return 0, 0
	}
	return m.clients[id].Count, m.clients[id].LastQuery
}

// QueryLogEntry 对外展示用的查询记录
type QueryLogEntry struct {
	Time    time.Time `json:"time"`
	Domain  string    `json:"domain"`
	Client  string    `json:"client"`
	Type    string    `json:"type"`
	Status  string    `json:"status"`
	Forward string    `json:"forward,omitempty"`
}

// RecentQueries 返回最近的若干条查询记录
func (m *MemoryLog) RecentQueries(limit int) []QueryLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.queries) {
		limit = len(m.queries)
	}
	out := make([]QueryLogEntry, 0, limit)
	for i := len(m.queries) - limit; i < len(m.queries); i++ {
		q := m.queries[i]
		entry := QueryLogEntry{
			Time:   time.Unix(q.Timestamp, 0),
			Domain: m.domains[q.DomainID].Name,
			Client: m.clients[q.ClientID].IP,
			Type:   q.Type.String(),
			Status: q.Status.String(),
		}
		if q.ForwardID >= 0 {
			entry.Forward = m.forwards[q.ForwardID].IP
		}
		out = append(out, entry)
	}
	return out
}

// OverTimeSnapshot 返回时间桶聚合的快照（键为桶起始时间戳）
func (m *MemoryLog) OverTimeSnapshot() map[int64]overTimeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]overTimeEntry, len(m.overTime))
	for idx, b := range m.overTime {
		out[int64(idx)*overTimeSlot] = *b
	}
	return out
}

// TopBlockedDomains 返回拦截次数最多的域名（无序遍历取前 n 个非零项）
func (m *MemoryLog) TopBlockedDomains(n int) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, d := range m.domains {
		if d.BlockedCount > 0 {
			out[d.Name] = d.BlockedCount
			if len(out) >= n {
				break
			}
		}
	}
	return out
}
