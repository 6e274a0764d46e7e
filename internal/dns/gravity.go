package dns

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quhao/holedns/pkg/utils"
)

var gravityDomains = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "holedns_gravity_domains",
		Help: "Number of domains in the compiled blocking set",
	},
)

func init() {
	prometheus.MustRegister(gravityDomains)
}

// GravityManager 拦截列表管理器：周期抓取订阅来源，解析出
// 域名集合后整体原子替换，并把成功抓取的内容缓存到磁盘，
// 使下次启动在网络不可用时仍能加载上一份列表
type GravityManager struct {
	cfg   *Config
	httpc *http.Client

	// 来源状态跟踪
	mu        sync.RWMutex
	lastSync  time.Time
	syncStats struct {
		totalSyncs      int64
		successfulSyncs int64
		failedSyncs     int64
		lastError       string
	}
	sources map[string]*ListSource

	// 编译后的规则，整体替换
	gravitySet map[string]struct{}
	blackSet   map[string]struct{}
	regexes    []*regexp.Regexp
}

// ListSource 单个订阅来源的抓取状态
type ListSource struct {
	Name         string        `json:"name"`
	URL          string        `json:"url"`
	Format       string        `json:"format"` // hosts, domains, adblock
	LastSync     time.Time     `json:"last_sync"`
	LastSuccess  time.Time     `json:"last_success"`
	LastError    string        `json:"last_error"`
	DomainCount  int           `json:"domain_count"`
	Status       string        `json:"status"` // success, error, pending, cached
	ResponseTime time.Duration `json:"response_time"`
}

func NewGravityManager(cfg *Config) *GravityManager {
	g := &GravityManager{
		cfg:        cfg,
		httpc:      &http.Client{Timeout: 15 * time.Second},
		sources:    make(map[string]*ListSource),
		gravitySet: make(map[string]struct{}),
		blackSet:   make(map[string]struct{}),
	}

	for _, src := range cfg.Gravity.Sources {
		if !src.Enabled || strings.TrimSpace(src.URL) == "" {
			continue
		}
		g.sources[src.Name] = &ListSource{
			Name:   src.Name,
			URL:    src.URL,
			Format: src.Format,
			Status: "pending",
		}
	}

	// 手工规则来自配置，不参与抓取
	g.loadStaticRules()

	return g
}

// loadStaticRules 编译配置中的手工黑名单与正则规则
func (g *GravityManager) loadStaticRules() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, d := range g.cfg.Gravity.Blacklist {
		if d, ok := normalizeDomain(d); ok {
			g.blackSet[d] = struct{}{}
		}
	}

	g.regexes = g.regexes[:0]
	for _, pat := range g.cfg.Gravity.Regex {
		re, err := regexp.Compile(pat)
		if err != nil {
			log.Printf("gravity: bad regex rule %q: %v", pat, err)
			continue
		}
		g.regexes = append(g.regexes, re)
	}
}

// Start 周期更新循环，启动时先尝试加载磁盘缓存再做一次抓取
func (g *GravityManager) Start(ctx context.Context) {
	g.loadCached()

	iv := g.cfg.GetGravityUpdateInterval()
	ticker := time.NewTicker(iv)
	defer ticker.Stop()

	_ = g.UpdateNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = g.UpdateNow(ctx)
		}
	}
}

// UpdateNow 抓取全部启用的来源并重建拦截集合。单个来源失败
// 不影响其他来源，全部失败时保留现有集合
func (g *GravityManager) UpdateNow(ctx context.Context) error {
	g.mu.Lock()
	g.lastSync = time.Now()
	g.syncStats.totalSyncs++
	names := make([]string, 0, len(g.sources))
	for name := range g.sources {
		names = append(names, name)
	}
	g.mu.Unlock()

	newSet := make(map[string]struct{})
	fetched := 0
	lastError := ""

	for _, name := range names {
		g.mu.RLock()
		src := g.sources[name]
		url, format := src.URL, src.Format
		g.mu.RUnlock()

		start := time.Now()
		body, err := g.fetch(ctx, url)
		elapsed := time.Since(start)

		if err != nil {
			lastError = err.Error()
			g.updateSourceStatus(name, "error", err.Error(), 0, elapsed)
			// 抓取失败时退回磁盘缓存
			if cached, cerr := os.ReadFile(g.cachePath(name)); cerr == nil {
				domains := parseList(string(cached), format)
				for d := range domains {
					newSet[d] = struct{}{}
				}
				g.updateSourceStatus(name, "cached", err.Error(), len(domains), elapsed)
			}
			continue
		}

		domains := parseList(string(body), format)
		for d := range domains {
			newSet[d] = struct{}{}
		}
		fetched++
		g.updateSourceStatus(name, "success", "", len(domains), elapsed)
		g.writeCache(name, body)
	}

	if len(names) > 0 && len(newSet) == 0 {
		g.mu.Lock()
		g.syncStats.failedSyncs++
		g.syncStats.lastError = lastError
		g.mu.Unlock()
		if lastError == "" {
			lastError = "gravity update got empty sets"
		}
		return errors.New(lastError)
	}

	g.mu.Lock()
	g.gravitySet = newSet
	g.syncStats.successfulSyncs++
	g.mu.Unlock()

	gravityDomains.Set(float64(len(newSet)))
	log.Printf("gravity: %d domains compiled from %d/%d sources", len(newSet), fetched, len(names))
	return nil
}

// loadCached 从磁盘缓存重建拦截集合，用于启动时先于首次抓取生效
func (g *GravityManager) loadCached() {
	newSet := make(map[string]struct{})
	g.mu.RLock()
	type srcInfo struct{ name, format string }
	infos := make([]srcInfo, 0, len(g.sources))
	for name, src := range g.sources {
		infos = append(infos, srcInfo{name, src.Format})
	}
	g.mu.RUnlock()

	loaded := 0
	for _, si := range infos {
		body, err := os.ReadFile(g.cachePath(si.name))
		if err != nil {
			continue
		}
		for d := range parseList(string(body), si.format) {
			newSet[d] = struct{}{}
		}
		loaded++
	}
	if loaded == 0 {
		return
	}

	g.mu.Lock()
	g.gravitySet = newSet
	g.mu.Unlock()
	gravityDomains.Set(float64(len(newSet)))
	log.Printf("gravity: %d domains loaded from cache (%d sources)", len(newSet), loaded)
}

// Match 判断域名是否应被拦截，返回对应的拦截状态。
// 匹配顺序：手工黑名单 → 订阅列表 → 正则规则
func (g *GravityManager) Match(domain string) (QueryStatus, bool) {
	d, ok := normalizeDomain(domain)
	if !ok {
		return StatusUnknown, false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if matchSet(g.blackSet, d) {
		return StatusBlacklist, true
	}
	if matchSet(g.gravitySet, d) {
		return StatusGravity, true
	}
	bare := strings.TrimPrefix(d, ".")
	for _, re := range g.regexes {
		if re.MatchString(bare) {
			return StatusWildcard, true
		}
	}
	return StatusUnknown, false
}

// matchSet 精确匹配域名及其所有父域（集合中的键带前导点）
func matchSet(set map[string]struct{}, d string) bool {
	for d != "" {
		if _, ok := set[d]; ok {
			return true
		}
		idx := strings.Index(d[1:], ".")
		if idx < 0 {
			return false
		}
		d = d[idx+1:]
	}
	return false
}

// Status 返回更新统计与各来源状态，供管理接口展示
func (g *GravityManager) Status() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var successRate float64
	if g.syncStats.totalSyncs > 0 {
		successRate = float64(g.syncStats.successfulSyncs) / float64(g.syncStats.totalSyncs) * 100
	}

	return map[string]interface{}{
		"last_sync":        g.lastSync,
		"total_syncs":      g.syncStats.totalSyncs,
		"successful_syncs": g.syncStats.successfulSyncs,
		"failed_syncs":     g.syncStats.failedSyncs,
		"success_rate":     successRate,
		"last_error":       g.syncStats.lastError,
		"domains":          len(g.gravitySet),
		"blacklist":        len(g.blackSet),
		"regex_rules":      len(g.regexes),
		"sources":          g.sources,
	}
}

func (g *GravityManager) updateSourceStatus(name, status, errMsg string, count int, elapsed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, exists := g.sources[name]
	if !exists {
		return
	}
	src.Status = status
	src.LastSync = time.Now()
	src.ResponseTime = elapsed
	if status == "success" {
		src.LastSuccess = time.Now()
		src.LastError = ""
		src.DomainCount = count
	} else {
		src.LastError = errMsg
		if status == "cached" {
			src.DomainCount = count
		}
	}
}

func (g *GravityManager) fetch(ctx context.Context, url string) ([]byte, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (g *GravityManager) cachePath(name string) string {
	return filepath.Join(g.cfg.GetGravityDataDir(), "gravity_"+name+".list")
}

// writeCache 原子写缓存文件：先写临时文件再改名
func (g *GravityManager) writeCache(name string, body []byte) {
	dir := g.cfg.GetGravityDataDir()
	if err := utils.EnsureDir(dir); err != nil {
		log.Printf("gravity: cannot create cache dir: %v", err)
		return
	}
	path := g.cachePath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		log.Printf("gravity: cache write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("gravity: cache rename failed: %v", err)
	}
}

// parsers

var reDomain = regexp.MustCompile(`(?i)([a-z0-9_][a-z0-9_-]*\.)+[a-z]{2,}`)

// normalizeDomain 归一化域名为带前导点的小写形式，
// 便于集合匹配覆盖子域
func normalizeDomain(d string) (string, bool) {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "", false
	}
	d = strings.TrimPrefix(d, ".")
	d = strings.TrimSuffix(d, ".")
	if !reDomain.MatchString(d) {
		return "", false
	}
	m := reDomain.FindString(d)
	if m == "" {
		return "", false
	}
	return "." + m, true
}

// parseList 按来源声明的格式解析列表内容，未知格式按 domains 处理
func parseList(s, format string) map[string]struct{} {
	switch format {
	case "hosts":
		return parseHostsList(s)
	case "adblock":
		return parseAdblockList(s)
	default:
		return parseDomainsList(s)
	}
}

// parseHostsList 解析 hosts 格式（0.0.0.0 domain）
func parseHostsList(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if d, ok := normalizeDomain(fields[1]); ok {
			out[d] = struct{}{}
		}
	}
	return out
}

// parseDomainsList 解析纯域名列表，每行一个
func parseDomainsList(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if d, ok := normalizeDomain(line); ok {
			out[d] = struct{}{}
		}
	}
	return out
}

// parseAdblockList 解析 adblock 规则（||domain^），
// 跳过注释与例外规则
func parseAdblockList(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "@@") {
			continue
		}
		line = strings.TrimPrefix(line, "||")
		line = strings.TrimPrefix(line, "|")
		line = strings.TrimSuffix(line, "^")
		if d, ok := normalizeDomain(line); ok {
			out[d] = struct{}{}
		}
	}
	return out
}
