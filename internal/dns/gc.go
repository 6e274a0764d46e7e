package dns

import (
	"log"
	"time"
)

// DeleteOldQueries 删除超过保留期的持久化记录，返回删除行数
// 与回收后的数据库文件大小（MB）。删除失败不是拒绝新写入的
// 理由：无论结果如何，完成后都恢复持久化可用标志。
func (d *Database) DeleteOldQueries(retentionDays int) (removed int64, sizeMB float64) {
	defer d.reenable()

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		log.Printf("database: failed to open DB for retention collection: %v", err)
		return 0, d.fileSizeMB()
	}
	defer conn.Close()

	cutoff := time.Now().Unix() - int64(retentionDays)*86400

	result, err := conn.Exec(`DELETE FROM queries WHERE timestamp <= ?`, cutoff)
	if err != nil {
		log.Printf("database: deleting queries due to age of entries failed: %v", err)
		return 0, d.fileSizeMB()
	}

	removed, _ = result.RowsAffected()
	sizeMB = d.fileSizeMB()
	if removed > 0 {
		gcDeletedTotal.Add(float64(removed))
		log.Printf("database: size is %.2f MB, deleted %d rows", sizeMB, removed)
	}
	return removed, sizeMB
}
