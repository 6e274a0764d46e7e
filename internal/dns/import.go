package dns

import (
	"database/sql"
	"log"
	"time"

	"github.com/quhao/holedns/pkg/utils"
)

// minValidTimestamp 可信时间戳下限：2017-01-01 00:00:00 UTC，
// 更早（或位于未来）的行视为损坏数据跳过
const minValidTimestamp = 1483228800

// ImportRecent 启动时一次性地把最近 max_log_age 内的持久化
// 记录按库内升序重放进共享内存日志，并重建全部派生聚合。
// 导入的记录标记为已完成、已落库（DBID=行ID），之后把写回
// 游标推到日志末尾，保证它们不会被再次写回。单行校验失败
// 只跳过该行；语句级错误提前终止导入但保留已导入的部分。
func (d *Database) ImportRecent(m *MemoryLog) int {
	if d.cfg.GetPrivacyLevel() >= PrivacyNoStats {
		return 0
	}
	if !d.Available() {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		d.checkError("import open", err)
		return 0
	}
	defer conn.Close()

	now := time.Now().Unix()
	mintime := now - int64(d.cfg.GetMaxLogAge().Seconds())

	rows, err := conn.Query(
		`SELECT id, timestamp, type, status, domain, client, forward
		   FROM queries WHERE timestamp >= ? ORDER BY id ASC`, mintime)
	if err != nil {
		d.checkError("import query", err)
		return 0
	}
	defer rows.Close()

	imported := 0

	m.Lock()
	defer m.Unlock()

	for rows.Next() {
		var (
			dbid        int64
			timestamp   int64
			rawType     int
			rawStatus   int
			domain      string
			client      string
			forwardDest sql.NullString
		)
		if err := rows.Scan(&dbid, &timestamp, &rawType, &rawStatus, &domain, &client, &forwardDest); err != nil {
			log.Printf("DB warn: scan failed: %v", err)
			continue
		}

		if timestamp < minValidTimestamp {
			log.Printf("DB warn: TIMESTAMP should be larger than 01/01/2017 but is %d", timestamp)
			continue
		}
		if timestamp > now {
			log.Printf("DB warn: skipping query logged in the future (%d)", timestamp)
			continue
		}

		qtype := QueryType(rawType)
		if !qtype.Valid() {
			log.Printf("DB warn: TYPE should not be %d", rawType)
			continue
		}
		// 用户关闭 AAAA 分析时不导入 AAAA 行
		if qtype == TypeAAAA && !d.cfg.AnalyzeAAAA() {
			continue
		}

		status := QueryStatus(rawStatus)
		if !status.Valid() {
			log.Printf("DB warn: STATUS should be within [%d,%d] but is %d",
				StatusUnknown, statusMax, rawStatus)
			continue
		}

		if domain == "" {
			log.Printf("DB warn: DOMAIN should never be empty, %d", timestamp)
			continue
		}
		if client == "" {
			log.Printf("DB warn: CLIENT should never be empty, %d", timestamp)
			continue
		}

		if d.cfg.IgnoreLocalhost() && utils.IsLoopback(client) {
			continue
		}

		// 仅 forwarded 状态要求转发目标非空，其余状态无此字段
		forwardID := -1
		if status == StatusForwarded {
			if !forwardDest.Valid || forwardDest.String == "" {
				log.Printf("DB warn: FORWARD should not be NULL with status forwarded, %d", timestamp)
				continue
			}
			forwardID = m.FindForwardID(forwardDest.String)
		}

		// 全部校验通过后才驻留域名与客户端
		domainID := m.FindDomainID(domain)
		clientID := m.FindClientID(client)

		// 与活跃处理完全相同的计数路径重放该记录
		idx := m.AppendQuery(timestamp, qtype, domainID, clientID, PrivacyShowAll)
		if forwardID >= 0 {
			m.SetForward(idx, forwardID)
		}
		m.SetStatus(idx, status)
		m.SetComplete(idx)
		m.MarkSaved(idx, dbid)

		imported++
	}

	if err := rows.Err(); err != nil {
		// 语句级错误：提前终止，已导入的行保留
		d.checkError("import step", err)
	}

	// 游标推进到日志末尾，刚导入的行不会被再次写回
	d.setCursor(m.Len())

	importedTotal.Add(float64(imported))
	log.Printf("database: imported %d queries from the long-term database", imported)
	return imported
}
