package dns

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
)

// 属性表键（ftl 表）
const (
	propDBVersion             = 0 // 模式版本
	propLastTimestamp         = 1 // 最近一次写回的最大时间戳
	propFirstCounterTimestamp = 2 // 计数表创建时间
)

// 计数表键（counters 表）
const (
	counterTotalQueries   = 0
	counterBlockedQueries = 1
)

// 当前模式版本
const schemaVersion = 3

// ErrNoData 查询的属性或计数不存在
var ErrNoData = errors.New("database: no data")

// Database 长期数据库管理器。持有进程级共享状态：
// 持久化可用标志、写回游标、回收请求标志。对存储的
// 访问由单个互斥锁串行化（打开 → 操作 → 关闭）。
type Database struct {
	cfg  *Config
	path string

	mu sync.Mutex // 串行化数据库连接

	stateMu     sync.Mutex
	enabled     bool
	cursor      int // 写回水位游标：下一个待写回的内存日志索引
	gcRequested bool
}

// NewDatabase 打开既有数据库或创建新库并应用缺失的迁移。
// 数据库文件名为空时返回禁用状态的管理器，守护进程仅用内存。
func NewDatabase(cfg *Config) *Database {
	d := &Database{cfg: cfg, path: cfg.GetDatabaseFile()}

	if d.path == "" {
		log.Printf("database: no file configured, long-term storage disabled")
		return d
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.initLocked(); err != nil {
		log.Printf("database: initialization failed: %v", err)
		return d
	}

	d.stateMu.Lock()
	d.enabled = true
	d.stateMu.Unlock()
	log.Printf("database: successfully initialized (%s)", d.path)
	return d
}

// initLocked 打开或创建数据库并确保模式为最新版本，
// 调用方需持有连接锁
func (d *Database) initLocked() error {
	fresh := false
	if _, err := os.Stat(d.path); os.IsNotExist(err) {
		log.Printf("database: creating new (empty) database")
		fresh = true
	}

	conn, err := d.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	if fresh {
		if err := createBaseSchema(conn); err != nil {
			return fmt.Errorf("create base schema: %w", err)
		}
	}

	version, err := getProperty(conn, propDBVersion)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Printf("database: version is %d", version)
	if version < 1 {
		return fmt.Errorf("schema version %d incorrect", version)
	}

	return ensureCurrent(conn, version)
}

// ensureCurrent 逐步应用缺失的迁移，每步之后重读版本确认生效
func ensureCurrent(conn *sql.DB, version int64) error {
	if version < 2 {
		log.Printf("database: updating long-term database to version 2")
		if err := createCounterTable(conn); err != nil {
			return fmt.Errorf("counter table not initialized: %w", err)
		}
		var err error
		if version, err = getProperty(conn, propDBVersion); err != nil || version < 2 {
			return fmt.Errorf("version 2 upgrade not confirmed (version=%d): %v", version, err)
		}
	}
	if version < 3 {
		log.Printf("database: updating long-term database to version 3")
		if err := createNetworkTable(conn); err != nil {
			return fmt.Errorf("network table not initialized: %w", err)
		}
		var err error
		if version, err = getProperty(conn, propDBVersion); err != nil || version < 3 {
			return fmt.Errorf("version 3 upgrade not confirmed (version=%d): %v", version, err)
		}
	}
	return nil
}

// createBaseSchema 建立版本1的基础模式：查询日志表、
// 时间戳索引（非唯一）与属性表
func createBaseSchema(conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE queries ( id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type INTEGER NOT NULL,
			status INTEGER NOT NULL,
			domain TEXT NOT NULL,
			client TEXT NOT NULL,
			forward TEXT )`,
		`CREATE INDEX idx_queries_timestamps ON queries (timestamp)`,
		`CREATE TABLE ftl ( id INTEGER PRIMARY KEY NOT NULL, value BLOB NOT NULL )`,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			return err
		}
	}
	if err := setProperty(conn, propDBVersion, 1); err != nil {
		return err
	}
	// 最近写回时间戳初始化为 1970-01-01 00:00
	return setProperty(conn, propLastTimestamp, 0)
}

// createCounterTable 版本1→2迁移：创建计数表并播种，
// 记录创建时间，更新版本号
func createCounterTable(conn *sql.DB) error {
	if _, err := conn.Exec(
		`CREATE TABLE counters ( id INTEGER PRIMARY KEY NOT NULL, value INTEGER NOT NULL )`); err != nil {
		return err
	}
	if err := setCounter(conn, counterTotalQueries, 0); err != nil {
		return err
	}
	if err := setCounter(conn, counterBlockedQueries, 0); err != nil {
		return err
	}
	if err := setProperty(conn, propFirstCounterTimestamp, time.Now().Unix()); err != nil {
		return err
	}
	return setProperty(conn, propDBVersion, 2)
}

// open 建立新的数据库连接。连接按需打开、用毕即关，
// 避免长期占用句柄
func (d *Database) open() (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+d.path+"?_busy_timeout=1000")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// isBusy 判断错误是否为可重试的忙等待
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// execRetry 执行语句，遇到忙等待时重试；其他错误直接返回
func execRetry(conn *sql.DB, query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = conn.Exec(query, args...); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return err
}

// checkError 非忙等待的存储错误使进程级持久化降级为禁用，
// 守护进程继续以纯内存模式服务
func (d *Database) checkError(op string, err error) {
	if err == nil || isBusy(err) {
		return
	}
	log.Printf("database: %s failed, disabling database connection: %v", op, err)
	dbErrorsTotal.WithLabelValues(op).Inc()
	d.stateMu.Lock()
	d.enabled = false
	d.stateMu.Unlock()
}

// Available 持久化当前是否可用
func (d *Database) Available() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.enabled
}

// reenable 恢复持久化（回收完成或重试成功后调用）
func (d *Database) reenable() {
	d.stateMu.Lock()
	if !d.enabled && d.path != "" {
		d.enabled = true
	}
	d.stateMu.Unlock()
}

// Cursor 当前写回水位游标
func (d *Database) Cursor() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.cursor
}

// setCursor 推进写回水位游标
func (d *Database) setCursor(idx int) {
	d.stateMu.Lock()
	if idx > d.cursor {
		d.cursor = idx
	}
	d.stateMu.Unlock()
}

// RequestGC 请求在下一个调度周期执行过期记录回收
// （由外部定时器触发，例如每日一次）
func (d *Database) RequestGC() {
	d.stateMu.Lock()
	d.gcRequested = true
	d.stateMu.Unlock()
}

// takeGCRequest 消费回收请求标志
func (d *Database) takeGCRequest() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	req := d.gcRequested
	d.gcRequested = false
	return req
}

// getProperty 读取属性值。属性缺失或属性表尚不存在时
// 返回 ErrNoData 而不是报错
func getProperty(conn *sql.DB, id int) (int64, error) {
	var value int64
	err := conn.QueryRow(`SELECT value FROM ftl WHERE id = ?`, id).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, ErrNoData
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrError {
		// no such table: 模式尚未建立
		return 0, ErrNoData
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// setProperty 写入属性值（upsert，后写者胜）
func setProperty(conn *sql.DB, id int, value int64) error {
	return execRetry(conn, `INSERT OR REPLACE INTO ftl (id, value) VALUES ( ?, ? )`, id, value)
}

// setCounter 设置计数初值（仅迁移播种时使用）
func setCounter(conn *sql.DB, id int, value int64) error {
	return execRetry(conn, `INSERT OR REPLACE INTO counters (id, value) VALUES ( ?, ? )`, id, value)
}

// getCounter 读取计数值
func getCounter(conn *sql.DB, id int) (int64, error) {
	var value int64
	err := conn.QueryRow(`SELECT value FROM counters WHERE id = ?`, id).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, ErrNoData
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// updateCounters 以增量方式更新计数，计数只增不减
func updateCounters(conn *sql.DB, total, blocked int) error {
	if err := execRetry(conn,
		`UPDATE counters SET value = value + ? WHERE id = ?`, total, counterTotalQueries); err != nil {
		return err
	}
	return execRetry(conn,
		`UPDATE counters SET value = value + ? WHERE id = ?`, blocked, counterBlockedQueries)
}

// lastQueryID 查询当前最大的持久化行ID
func lastQueryID(conn *sql.DB) (int64, error) {
	var id sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(id) FROM queries`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// TotalQueriesInDB 返回库中持久化行总数，不可用时返回 -1。
// 用时间戳索引计数比 COUNT(*) 快
func (d *Database) TotalQueriesInDB() int64 {
	if !d.Available() {
		return -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		d.checkError("open", err)
		return -1
	}
	defer conn.Close()

	var n int64
	if err := conn.QueryRow(`SELECT COUNT(timestamp) FROM queries`).Scan(&n); err != nil {
		d.checkError("count", err)
		return -1
	}
	return n
}

// GetProperty 读取属性值（对外只读访问）
func (d *Database) GetProperty(id int) (int64, error) {
	if !d.Available() {
		return 0, errors.New("database: not available")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.open()
	if err != nil {
		d.checkError("open", err)
		return 0, err
	}
	defer conn.Close()
	return getProperty(conn, id)
}

// fileSizeMB 数据库文件大小（MB），文件不存在时为 0
func (d *Database) fileSizeMB() float64 {
	st, err := os.Stat(d.path)
	if err != nil {
		return 0
	}
	return float64(st.Size()) * 1e-6
}

var (
	dbErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holedns_database_errors_total",
			Help: "Total database errors that disabled persistence",
		},
		[]string{"op"},
	)
	flushSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holedns_database_queries_saved_total",
			Help: "Total query records flushed to the long-term database",
		},
	)
	flushFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holedns_database_queries_failed_total",
			Help: "Total query records that failed to flush",
		},
	)
	gcDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holedns_database_queries_deleted_total",
			Help: "Total expired query records removed by retention collection",
		},
	)
	importedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holedns_database_queries_imported_total",
			Help: "Total query records replayed from the long-term database at startup",
		},
	)
)

func init() {
	prometheus.MustRegister(dbErrorsTotal, flushSavedTotal, flushFailedTotal, gcDeletedTotal, importedTotal)
}
