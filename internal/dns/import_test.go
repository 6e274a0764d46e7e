package dns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImportRoundTrip(t *testing.T) {
	d, cfg := newTestDatabase(t)
	cfg.Database.MaxLogAge = 7 * 86400

	m := NewMemoryLog()
	old := time.Now().Unix() - 100
	addQuery(m, old, "example.com", "192.168.1.2", StatusForwarded, "1.1.1.1:53")
	addQuery(m, old+1, "ads.example.com", "192.168.1.2", StatusGravity, "")
	addQuery(m, old+2, "example.org", "192.168.1.3", StatusCache, "")

	m.Lock()
	res := d.Flush(m, 0)
	m.Unlock()
	require.Equal(t, 3, res.Saved)

	// 模拟重启：全新内存日志 + 指向同一文件的新数据库管理器
	d2 := NewDatabase(cfg)
	m2 := NewMemoryLog()
	require.Equal(t, 3, d2.ImportRecent(m2))

	// 逐字段等价
	m.Lock()
	m2.Lock()
	require.Equal(t, m.Len(), m2.Len())
	for i := 0; i < m.Len(); i++ {
		orig, imp := m.Query(i), m2.Query(i)
		require.Equal(t, orig.Timestamp, imp.Timestamp)
		require.Equal(t, orig.Type, imp.Type)
		require.Equal(t, orig.Status, imp.Status)
		require.Equal(t, m.DomainString(i), m2.DomainString(i))
		require.Equal(t, m.ClientString(i), m2.ClientString(i))
		require.Equal(t, m.ForwardString(i), m2.ForwardString(i))
		require.True(t, imp.Complete)
		require.NotZero(t, imp.DBID)
	}
	m2.Unlock()
	m.Unlock()

	// 聚合经由同一条计数路径重建，结果完全一致
	require.Equal(t, m.CountersSnapshot(), m2.CountersSnapshot())
	require.Equal(t, m.OverTimeSnapshot(), m2.OverTimeSnapshot())

	// 导入后的记录不会被再次写回
	require.Equal(t, m2.Len(), d2.Cursor())
	m2.Lock()
	res = d2.Flush(m2, d2.Cursor())
	m2.Unlock()
	require.Equal(t, 0, res.Saved)
	require.EqualValues(t, 3, countRows(t, d2))
}

func TestImportSkipsInvalidRows(t *testing.T) {
	d, cfg := newTestDatabase(t)
	cfg.Database.MaxLogAge = 7 * 86400
	cfg.Privacy.IgnoreLocalhost = true

	conn, err := d.open()
	require.NoError(t, err)
	now := time.Now().Unix()
	rows := []struct {
		ts      int64
		qtype   int
		status  int
		domain  string
		client  string
		forward any
	}{
		{now - 10, int(TypeA), int(StatusCache), "ok.test", "10.0.0.1", nil},              // 有效
		{1000, int(TypeA), int(StatusCache), "ancient.test", "10.0.0.1", nil},             // 早于可信下限
		{now + 3600, int(TypeA), int(StatusCache), "future.test", "10.0.0.1", nil},        // 未来时间戳
		{now - 9, 99, int(StatusCache), "badtype.test", "10.0.0.1", nil},                  // 未知类型
		{now - 8, int(TypeA), 99, "badstatus.test", "10.0.0.1", nil},                      // 未知状态
		{now - 7, int(TypeA), int(StatusCache), "", "10.0.0.1", nil},                      // 空域名
		{now - 6, int(TypeA), int(StatusCache), "noclient.test", "", nil},                 // 空客户端
		{now - 5, int(TypeA), int(StatusForwarded), "nofwd.test", "10.0.0.1", nil},        // forwarded 缺转发目标
		{now - 4, int(TypeA), int(StatusCache), "local.test", "127.0.0.1", nil},           // 环回客户端
		{now - 3, int(TypeA), int(StatusCache), "local6.test", "::1", nil},                // 环回客户端 (IPv6)
		{now - 2, int(TypeAAAA), int(StatusCache), "v6.test", "10.0.0.1", nil},            // AAAA 分析已关闭
		{now - 1, int(TypeA), int(StatusForwarded), "ok2.test", "10.0.0.1", "8.8.8.8:53"}, // 有效
	}
	for _, r := range rows {
		_, err := conn.Exec(
			`INSERT INTO queries VALUES (NULL,?,?,?,?,?,?)`,
			r.ts, r.qtype, r.status, r.domain, r.client, r.forward)
		require.NoError(t, err)
	}
	conn.Close()

	cfg.Privacy.DisableAAAAAnalysis = true

	m := NewMemoryLog()
	require.Equal(t, 2, d.ImportRecent(m))

	m.Lock()
	defer m.Unlock()
	require.Equal(t, 2, m.Len())
	require.Equal(t, "ok.test", m.DomainString(0))
	require.Equal(t, "ok2.test", m.DomainString(1))
}

func TestImportRespectsMaxLogAge(t *testing.T) {
	d, cfg := newTestDatabase(t)
	cfg.Database.MaxLogAge = 3600

	conn, err := d.open()
	require.NoError(t, err)
	now := time.Now().Unix()
	for _, ts := range []int64{now - 7200, now - 60} {
		_, err := conn.Exec(`INSERT INTO queries VALUES (NULL,?,?,?,?,?,?)`,
			ts, int(TypeA), int(StatusCache), "d.test", "10.0.0.1", nil)
		require.NoError(t, err)
	}
	conn.Close()

	m := NewMemoryLog()
	require.Equal(t, 1, d.ImportRecent(m))
}

func TestImportPrivacyNoStats(t *testing.T) {
	d, cfg := newTestDatabase(t)
	cfg.Privacy.Level = int(PrivacyNoStats)

	m := NewMemoryLog()
	require.Equal(t, 0, d.ImportRecent(m))
	require.Equal(t, 0, m.Len())
}
