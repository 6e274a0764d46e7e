package utils

import (
	"net"
	"os"
	"regexp"
	"strings"
)

// StringUtils 字符串工具函数
type StringUtils struct{}

// IsEmpty 检查字符串是否为空
func (s *StringUtils) IsEmpty(str string) bool {
	return strings.TrimSpace(str) == ""
}

// IsNotEmpty 检查字符串是否非空
func (s *StringUtils) IsNotEmpty(str string) bool {
	return !s.IsEmpty(str)
}

// NetworkUtils 网络工具函数
type NetworkUtils struct{}

// IsValidIP 检查是否为有效的 IP 地址
func (n *NetworkUtils) IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsLoopback 检查地址是否为环回地址
func (n *NetworkUtils) IsLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// IsValidPort 检查是否为有效的端口号
func (n *NetworkUtils) IsValidPort(port int) bool {
	return port > 0 && port <= 65535
}

// IsValidDomain 检查是否为有效的域名
func (n *NetworkUtils) IsValidDomain(domain string) bool {
	// 简单的域名验证
	pattern := `^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`
	matched, _ := regexp.MatchString(pattern, domain)
	return matched
}

// FileUtils 文件工具函数
type FileUtils struct{}

// EnsureDir 确保目录存在
func (f *FileUtils) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists 检查文件是否存在
func (f *FileUtils) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileSize 获取文件大小
func (f *FileUtils) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// 全局工具实例
var (
	String  = &StringUtils{}
	Network = &NetworkUtils{}
	File    = &FileUtils{}
)

// 便捷函数
func IsEmpty(str string) bool {
	return String.IsEmpty(str)
}

func IsNotEmpty(str string) bool {
	return String.IsNotEmpty(str)
}

func IsValidIP(ip string) bool {
	return Network.IsValidIP(ip)
}

func IsLoopback(ip string) bool {
	return Network.IsLoopback(ip)
}

func IsValidDomain(domain string) bool {
	return Network.IsValidDomain(domain)
}

func EnsureDir(path string) error {
	return File.EnsureDir(path)
}

func FileExists(path string) bool {
	return File.FileExists(path)
}
