package dns

import (
	"time"
)

// GravityListSource 拦截列表来源配置
type GravityListSource struct {
	Name    string `yaml:"name"`    // 来源名称
	URL     string `yaml:"url"`     // 来源URL
	Format  string `yaml:"format"`  // 列表格式 (hosts/domains/adblock)
	Enabled bool   `yaml:"enabled"` // 是否启用
}

// Config DNS过滤服务配置
type Config struct {
	ListenDNS  string `yaml:"listen_dns"`
	ListenHTTP string `yaml:"listen_http"`
	AdminToken string `yaml:"admin_token"`

	// 上游DNS服务器配置
	Upstreams []string `yaml:"upstreams"`

	// 拦截规则配置
	Gravity struct {
		Sources        []GravityListSource `yaml:"sources"`
		Blacklist      []string            `yaml:"blacklist"`
		Regex          []string            `yaml:"regex"`
		UpdateInterval int                 `yaml:"update_interval"`
		DataDir        string              `yaml:"data_dir"`
	} `yaml:"gravity"`

	// 长期数据库配置
	Database struct {
		File      string `yaml:"file"`
		Interval  int    `yaml:"interval"`    // 写回间隔（秒）
		MaxDBDays int    `yaml:"max_db_days"` // 保留天数
		MaxLogAge int    `yaml:"max_log_age"` // 启动导入的最大回溯期（秒）
		ParseARP  bool   `yaml:"parse_arp"`   // 是否维护网络设备清单表
	} `yaml:"database"`

	// 隐私配置
	Privacy struct {
		Level               int  `yaml:"level"`
		IgnoreLocalhost     bool `yaml:"ignore_localhost"`
		DisableAAAAAnalysis bool `yaml:"disable_aaaa_analysis"`
	} `yaml:"privacy"`

	// 日志配置
	Logging struct {
		Level   string `yaml:"level"`
		Output  string `yaml:"output"`
		MaxSize int    `yaml:"max_size"`
	} `yaml:"logging"`
}

// GetUpstreams 获取上游DNS服务器列表
func (c *Config) GetUpstreams() []string {
	if len(c.Upstreams) == 0 {
		return []string{"1.1.1.1:53"}
	}
	return c.Upstreams
}

// GetGravityUpdateInterval 获取拦截列表更新间隔
func (c *Config) GetGravityUpdateInterval() time.Duration {
	if c.Gravity.UpdateInterval <= 0 {
		return 24 * time.Hour // 默认每天更新
	}
	return time.Duration(c.Gravity.UpdateInterval) * time.Second
}

// GetGravityDataDir 获取拦截列表缓存目录
func (c *Config) GetGravityDataDir() string {
	if c.Gravity.DataDir == "" {
		return "./data"
	}
	return c.Gravity.DataDir
}

// IsPersistenceEnabled 是否启用长期数据库，
// 数据库文件名为空表示用户关闭了持久化
func (c *Config) IsPersistenceEnabled() bool {
	return c.Database.File != ""
}

// GetDatabaseFile 获取数据库文件路径
func (c *Config) GetDatabaseFile() string {
	return c.Database.File
}

// GetFlushInterval 获取写回间隔
func (c *Config) GetFlushInterval() time.Duration {
	if c.Database.Interval <= 0 {
		return time.Minute // 默认1分钟
	}
	return time.Duration(c.Database.Interval) * time.Second
}

// GetMaxDBDays 获取数据库保留天数
func (c *Config) GetMaxDBDays() int {
	if c.Database.MaxDBDays <= 0 {
		return 365
	}
	return c.Database.MaxDBDays
}

// GetMaxLogAge 获取启动导入的最大回溯期
func (c *Config) GetMaxLogAge() time.Duration {
	if c.Database.MaxLogAge <= 0 {
		return 24 * time.Hour // 默认导入最近24小时
	}
	return time.Duration(c.Database.MaxLogAge) * time.Second
}

// GetPrivacyLevel 获取隐私级别
func (c *Config) GetPrivacyLevel() PrivacyLevel {
	if c.Privacy.Level < int(PrivacyShowAll) {
		return PrivacyShowAll
	}
	if c.Privacy.Level > int(PrivacyNoStats) {
		return PrivacyNoStats
	}
	return PrivacyLevel(c.Privacy.Level)
}

// AnalyzeAAAA 是否统计与导入 AAAA 查询
func (c *Config) AnalyzeAAAA() bool {
	return !c.Privacy.DisableAAAAAnalysis
}

// IgnoreLocalhost 导入时是否丢弃来自环回地址的记录
func (c *Config) IgnoreLocalhost() bool {
	return c.Privacy.IgnoreLocalhost
}

// ParseARPEnabled 是否启用网络设备清单刷新
func (c *Config) ParseARPEnabled() bool {
	return c.Database.ParseARP
}
