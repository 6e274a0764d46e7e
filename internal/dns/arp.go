package dns

import (
	"bufio"
	"database/sql"
	"log"
	"os"
	"strings"
	"time"
)

// arpTablePath Linux 内核 ARP 缓存的 procfs 路径
var arpTablePath = "/proc/net/arp"

// createNetworkTable 建立网络设备清单表并升级架构版本到 3
func createNetworkTable(conn *sql.DB) error {
	_, err := conn.Exec(`CREATE TABLE network (
		id INTEGER PRIMARY KEY NOT NULL,
		ip TEXT NOT NULL,
		hwaddr TEXT NOT NULL,
		interface TEXT NOT NULL,
		name TEXT,
		firstSeen INTEGER NOT NULL,
		lastQuery INTEGER NOT NULL,
		numQueries INTEGER NOT NULL,
		macVendor TEXT
	)`)
	if err != nil {
		return err
	}
	if err := setProperty(conn, propDBVersion, schemaVersion); err != nil {
		return err
	}
	return nil
}

// arpEntry /proc/net/arp 的一行
type arpEntry struct {
	ip     string
	hwaddr string
	iface  string
}

// parseARPCache 读取内核 ARP 缓存，跳过表头和未解析
// （全零 MAC）的条目
func parseARPCache(path string) ([]arpEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []arpEntry
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		hwaddr := fields[3]
		if hwaddr == "00:00:00:00:00:00" {
			continue
		}
		entries = append(entries, arpEntry{
			ip:     fields[0],
			hwaddr: hwaddr,
			iface:  fields[5],
		})
	}
	return entries, scanner.Err()
}

// deviceUpdate ARP 条目与对应客户端活动的合并快照
type deviceUpdate struct {
	arpEntry
	count    int
	lastSeen int64
}

// RefreshNetworkTable 把内核 ARP 缓存合并进网络设备清单，
// 并用内存日志中的客户端活动更新查询计数与最后活跃时间。
// 客户端活动先于连接锁整体快照：持有连接锁时不得再等
// 内存日志锁，写回路径以相反顺序持锁
func (d *Database) RefreshNetworkTable(m *MemoryLog) {
	if !d.Available() {
		return
	}

	entries, err := parseARPCache(arpTablePath)
	if err != nil {
		log.Printf("database: cannot read ARP cache: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	updates := make([]deviceUpdate, 0, len(entries))
	for _, e := range entries {
		count, lastSeen := m.ClientActivity(e.ip)
		updates = append(updates, deviceUpdate{arpEntry: e, count: count, lastSeen: lastSeen})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		d.checkError("network open", err)
		return
	}
	defer conn.Close()

	now := time.Now().Unix()
	for _, e := range updates {
		var id int64
		err := conn.QueryRow(`SELECT id FROM network WHERE hwaddr = ?`, e.hwaddr).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			_, err = conn.Exec(`INSERT INTO network
				(ip, hwaddr, interface, firstSeen, lastQuery, numQueries)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ip, e.hwaddr, e.iface, now, e.lastSeen, e.count)
		case err == nil:
			_, err = conn.Exec(`UPDATE network
				SET ip = ?, interface = ?, lastQuery = MAX(lastQuery, ?), numQueries = ?
				WHERE id = ?`,
				e.ip, e.iface, e.lastSeen, e.count, id)
		}
		if err != nil {
			d.checkError("network upsert", err)
			return
		}
	}
}
