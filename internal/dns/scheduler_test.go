package dns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsWithoutDatabaseFile(t *testing.T) {
	// 未配置数据库文件时调度循环直接退出，
	// 不得反复重建临时库并报告虚假的恢复
	cfg := &Config{}
	d := NewDatabase(cfg)
	require.False(t, d.Available())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx, NewMemoryLog())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop kept running without a configured database file")
	}
	require.False(t, d.Available())
}

func TestAlignTime(t *testing.T) {
	require.EqualValues(t, 0, alignTime(59, 60))
	require.EqualValues(t, 60, alignTime(60, 60))
	require.EqualValues(t, 60, alignTime(119, 60))
	require.EqualValues(t, 1500000000, alignTime(1500000042, 60))
	require.EqualValues(t, 1499999700, alignTime(1499999999, 300))
}
