package dns

import (
	"log"
	"time"
)

const (
	// flushGracePeriod 未完成记录的宽限期（秒）：比它更年轻的
	// 未完成记录留到下一轮写回
	flushGracePeriod = 2
	// flushMaxErrors 单批写回的失败上限，达到后提前结束扫描
	flushMaxErrors = 3
)

// FlushResult 一次写回的结果
type FlushResult struct {
	Saved        int   // 本批成功落库的记录数
	Failed       int   // 本批插入失败的记录数
	NewCursor    int   // 新的写回水位游标
	MaxTimestamp int64 // 本批观察到的最大时间戳
}

// QueryLogView 写回引擎对共享内存日志的只读视图。
// 调用方必须在整个写回期间持有日志的独占访问区；
// MarkSaved 是视图上唯一允许的修改。
type QueryLogView interface {
	Len() int
	Query(i int) Query
	DomainString(i int) string
	ClientString(i int) string
	ForwardString(i int) string
	MarkSaved(i int, dbid int64)
}

// Flush 将内存日志中自 start 起尚未落库的记录批量写入
// 长期数据库。整批在一个事务中完成；已落库（DBID≠0）的
// 记录跳过，最高隐私级别的记录永不落库，未完成且年轻的
// 记录终止扫描（后续记录按插入顺序必然更年轻）。
// 单条插入失败累计达到上限时提前结束，已成功的部分照常提交。
func (d *Database) Flush(view QueryLogView, start int) FlushResult {
	res := FlushResult{NewCursor: start}

	// 最高隐私档完全不写统计
	if d.cfg.GetPrivacyLevel() >= PrivacyNoStats {
		return res
	}
	if !d.Available() {
		return res
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		d.checkError("flush open", err)
		return res
	}
	defer conn.Close()

	// 本地跟踪行ID，省去每行一次回查；自增列仍是事实来源
	lastID, err := lastQueryID(conn)
	if err != nil {
		d.checkError("flush last id", err)
		return res
	}

	tx, err := conn.Begin()
	if err != nil {
		d.checkError("flush begin", err)
		return res
	}

	stmt, err := tx.Prepare(`INSERT INTO queries VALUES (NULL,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		d.checkError("flush prepare", err)
		return res
	}

	now := time.Now().Unix()
	total, blocked := 0, 0
	var newLastTimestamp int64

	i := start
	for ; i < view.Len(); i++ {
		q := view.Query(i)

		if q.DBID != 0 {
			// 已落库，跳过
			continue
		}

		if !q.Complete && q.Timestamp > now-flushGracePeriod {
			// 全新且未完成的记录终止本轮扫描，下一轮再存
			break
		}

		if q.Privacy >= PrivacyMaximum {
			// 最高隐私模式下记录的查询永不存储、永不计数
			continue
		}

		var forward interface{}
		if q.Status == StatusForwarded {
			if f := view.ForwardString(i); f != "" {
				forward = f
			}
		}

		if _, err := stmt.Exec(
			q.Timestamp, int(q.Type), int(q.Status),
			view.DomainString(i), view.ClientString(i), forward,
		); err != nil {
			log.Printf("database: flush insert error: %v", err)
			res.Failed++
			flushFailedTotal.Inc()
			if res.Failed < flushMaxErrors {
				continue
			}
			log.Printf("database: flush exiting due to too many errors")
			break
		}

		res.Saved++
		lastID++
		view.MarkSaved(i, lastID)

		// 计数增量
		total++
		if q.Status.Blocked() {
			blocked++
		}
		if q.Timestamp > newLastTimestamp {
			newLastTimestamp = q.Timestamp
		}
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		d.checkError("flush commit", err)
		return res
	}

	// 仅当整批干净成功时推进游标并持久化最大时间戳
	if res.Saved > 0 && res.Failed == 0 {
		res.NewCursor = i
		res.MaxTimestamp = newLastTimestamp
		if err := setProperty(conn, propLastTimestamp, newLastTimestamp); err != nil {
			d.checkError("flush property", err)
			return res
		}
	}

	// 计数增量仅在至少保存一条时写入
	if res.Saved > 0 {
		if err := updateCounters(conn, total, blocked); err != nil {
			d.checkError("flush counters", err)
			return res
		}
		flushSavedTotal.Add(float64(res.Saved))
	}

	return res
}
