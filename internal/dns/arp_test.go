package dns

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const arpSample = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.2      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
192.168.1.9      0x1         0x0         00:00:00:00:00:00     *        eth0
`

// withFakeARPTable 把 ARP 缓存路径替换为临时文件
func withFakeARPTable(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	old := arpTablePath
	arpTablePath = path
	t.Cleanup(func() { arpTablePath = old })
}

func TestParseARPCache(t *testing.T) {
	withFakeARPTable(t, arpSample)

	entries, err := parseARPCache(arpTablePath)
	require.NoError(t, err)
	// 表头与未解析（全零 MAC）的条目被跳过
	require.Len(t, entries, 1)
	require.Equal(t, "192.168.1.2", entries[0].ip)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", entries[0].hwaddr)
	require.Equal(t, "eth0", entries[0].iface)
}

func TestRefreshNetworkTableUpsert(t *testing.T) {
	withFakeARPTable(t, arpSample)
	d, _ := newTestDatabase(t)

	m := NewMemoryLog()
	addQuery(m, time.Now().Unix()-100, "a.test", "192.168.1.2", StatusCache, "")

	d.RefreshNetworkTable(m)

	conn, err := d.open()
	require.NoError(t, err)
	defer conn.Close()

	var numQueries int64
	require.NoError(t, conn.QueryRow(
		`SELECT numQueries FROM network WHERE hwaddr = 'aa:bb:cc:dd:ee:ff'`).Scan(&numQueries))
	require.EqualValues(t, 1, numQueries)

	// 再次刷新是更新而不是新增
	addQuery(m, time.Now().Unix()-99, "b.test", "192.168.1.2", StatusCache, "")
	d.RefreshNetworkTable(m)

	var rows int64
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM network`).Scan(&rows))
	require.EqualValues(t, 1, rows)
	require.NoError(t, conn.QueryRow(
		`SELECT numQueries FROM network WHERE hwaddr = 'aa:bb:cc:dd:ee:ff'`).Scan(&numQueries))
	require.EqualValues(t, 2, numQueries)
}

func TestRefreshNetworkTableDoesNotBlockFlush(t *testing.T) {
	// 清单刷新不得在持有连接锁时再等内存日志锁：
	// 关机路径先锁内存日志再写回，相反的持锁顺序会互相卡死
	withFakeARPTable(t, arpSample)
	d, _ := newTestDatabase(t)

	m := NewMemoryLog()
	addQuery(m, time.Now().Unix()-100, "a.test", "192.168.1.2", StatusCache, "")

	m.Lock()

	refreshed := make(chan struct{})
	go func() {
		d.RefreshNetworkTable(m)
		close(refreshed)
	}()
	// 让刷新协程先跑到取客户端活动的位置
	time.Sleep(50 * time.Millisecond)

	flushed := make(chan FlushResult, 1)
	go func() {
		flushed <- d.Flush(m, 0)
	}()

	select {
	case res := <-flushed:
		require.Equal(t, 1, res.Saved)
	case <-time.After(5 * time.Second):
		t.Fatal("flush blocked behind an in-flight network table refresh")
	}

	m.Unlock()

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("network table refresh never finished")
	}
}
