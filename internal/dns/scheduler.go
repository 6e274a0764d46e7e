package dns

import (
	"context"
	"log"
	"time"
)

// schedulerPoll 调度循环的检查周期
const schedulerPoll = 100 * time.Millisecond

// alignTime 把时间戳对齐到间隔边界，使写回落在整点间隔上
// 而不随时间漂移
func alignTime(now, interval int64) int64 {
	return now - now%interval
}

// Run 后台调度循环：到达对齐的间隔边界时获取内存日志的
// 独占访问区执行写回，释放后在区外按需执行过期回收与
// 网络设备清单刷新。持久化因错误降级后，循环继续运行并在
// 每个周期重试重新打开，打开成功即恢复；取消上下文即退出。
func (d *Database) Run(ctx context.Context, m *MemoryLog) {
	if d.path == "" {
		// 未配置数据库文件：没有可恢复的存储，循环没有意义
		return
	}

	interval := int64(d.cfg.GetFlushInterval().Seconds())

	// 启动后不立即写回，等第一个对齐边界
	lastSave := alignTime(time.Now().Unix(), interval)

	ticker := time.NewTicker(schedulerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().Unix()-lastSave < interval {
			continue
		}
		lastSave = alignTime(time.Now().Unix(), interval)

		if !d.Available() {
			// 自愈重试：尝试重新初始化，失败则等下个周期
			d.mu.Lock()
			err := d.initLocked()
			d.mu.Unlock()
			if err != nil {
				log.Printf("database: reopen failed, retrying next interval: %v", err)
				continue
			}
			d.reenable()
			log.Printf("database: connection restored")
		}

		// 独占区内只做写回，时间受单个事务约束
		m.Lock()
		res := d.Flush(m, d.Cursor())
		m.Unlock()
		d.setCursor(res.NewCursor)

		if res.Saved > 0 || res.Failed > 0 {
			log.Printf("database: queries stored in DB: %d (failed %d)", res.Saved, res.Failed)
		}

		// 回收与清单刷新不触碰内存结构，在独占区外执行
		if d.takeGCRequest() {
			d.DeleteOldQueries(d.cfg.GetMaxDBDays())
		}

		if d.cfg.ParseARPEnabled() {
			d.RefreshNetworkTable(m)
		}
	}
}
