package dns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeleteOldQueries(t *testing.T) {
	d, _ := newTestDatabase(t)

	conn, err := d.open()
	require.NoError(t, err)
	now := time.Now().Unix()
	for _, ts := range []int64{now - 3*86400, now - 2*86400, now - 60} {
		_, err := conn.Exec(`INSERT INTO queries VALUES (NULL,?,?,?,?,?,?)`,
			ts, int(TypeA), int(StatusCache), "d.test", "10.0.0.1", nil)
		require.NoError(t, err)
	}
	conn.Close()

	removed, sizeMB := d.DeleteOldQueries(1)
	require.EqualValues(t, 2, removed)
	require.Greater(t, sizeMB, 0.0)
	require.EqualValues(t, 1, countRows(t, d))
}

func TestDeleteOldQueriesEmpty(t *testing.T) {
	d, _ := newTestDatabase(t)

	removed, _ := d.DeleteOldQueries(365)
	require.EqualValues(t, 0, removed)
}

func TestDeleteOldQueriesReenables(t *testing.T) {
	d, _ := newTestDatabase(t)

	// 模拟此前的存储错误导致持久化降级
	d.stateMu.Lock()
	d.enabled = false
	d.stateMu.Unlock()
	require.False(t, d.Available())

	d.DeleteOldQueries(365)
	require.True(t, d.Available())
}
