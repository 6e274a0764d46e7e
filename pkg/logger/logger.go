package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String 返回日志级别的字符串表示
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析级别名，未知名称返回 INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Logger 日志记录器
type Logger struct {
	mu      sync.Mutex
	level   Level
	output  io.Writer
	maxSize int
	file    *os.File
	prefix  string
}

// Config 日志配置
type Config struct {
	Level   Level  `yaml:"level"`
	Output  string `yaml:"output"`
	MaxSize int    `yaml:"max_size"` // 文件输出时的轮转阈值（MB）
	Prefix  string `yaml:"prefix"`
}

// NewLogger 创建新的日志记录器
func NewLogger(config *Config) (*Logger, error) {
	logger := &Logger{
		level:   config.Level,
		maxSize: config.MaxSize,
		prefix:  config.Prefix,
	}

	if err := logger.setOutput(config.Output); err != nil {
		return nil, err
	}

	return logger, nil
}

// setOutput 设置日志输出
func (l *Logger) setOutput(output string) error {
	switch output {
	case "", "stdout":
		l.output = os.Stdout
	case "stderr":
		l.output = os.Stderr
	default:
		// 作为文件路径处理
		return l.setFileOutput(output)
	}
	return nil
}

// setFileOutput 设置文件输出
func (l *Logger) setFileOutput(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log dir: %v", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %v", err)
	}

	l.file = file
	l.output = file
	return nil
}

// rotateIfNeeded 超出阈值时轮转日志文件
func (l *Logger) rotateIfNeeded() {
	if l.file == nil || l.maxSize <= 0 {
		return
	}
	info, err := l.file.Stat()
	if err != nil || info.Size() <= int64(l.maxSize)*1024*1024 {
		return
	}

	path := l.file.Name()
	l.file.Close()
	_ = os.Rename(path, path+"."+time.Now().Format("2006-01-02-15-04-05"))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		l.file = file
		l.output = file
	}
}

// log 记录日志
func (l *Logger) log(level Level, message string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rotateIfNeeded()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	if l.output != nil {
		fmt.Fprintf(l.output, "[%s] %s [%s] %s\n", timestamp, level.String(), l.prefix, message)
	}
}

// Debug 记录调试日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

// Info 记录信息日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn 记录警告日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error 记录错误日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

// Fatal 记录致命错误日志并退出
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Close 关闭日志记录器
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Writer 返回底层输出，供标准库 log 重定向
func (l *Logger) Writer() io.Writer {
	return l.output
}
