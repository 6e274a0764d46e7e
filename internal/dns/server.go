package dns

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quhao/holedns/pkg/utils"
)

// cacheEntry DNS缓存条目
type cacheEntry struct {
	response *mdns.Msg
	expireAt time.Time
	hits     int64
}

// Server DNS过滤服务器：应答前先查手工与订阅拦截规则，
// 放行的查询转发上游，全部查询记入共享内存日志供统计与写回
type Server struct {
	cfg     *Config
	mem     *MemoryLog
	gravity *GravityManager

	// 上游健康状态（简单熔断）
	healthMu       sync.Mutex
	upstreamHealth map[string]*healthState

	// 应答缓存
	cacheMu    sync.RWMutex
	cache      map[string]*cacheEntry
	cacheStats struct {
		hits   int64
		misses int64
	}
}

func NewServer(cfg *Config, mem *MemoryLog, gravity *GravityManager) *Server {
	srv := &Server{
		cfg:            cfg,
		mem:            mem,
		gravity:        gravity,
		upstreamHealth: make(map[string]*healthState),
		cache:          make(map[string]*cacheEntry),
	}

	go srv.cacheCleaner()

	return srv
}

func (s *Server) ServeUDP(conn *net.UDPConn) {
	srv := &mdns.Server{Handler: mdns.HandlerFunc(s.handle), PacketConn: conn}
	if err := srv.ActivateAndServe(); err != nil {
		log.Printf("udp serve err: %v", err)
	}
}

func (s *Server) ServeTCP(ln net.Listener) {
	srv := &mdns.Server{Handler: mdns.HandlerFunc(s.handle), Listener: ln}
	if err := srv.ActivateAndServe(); err != nil {
		log.Printf("tcp serve err: %v", err)
	}
}

func (s *Server) handle(w mdns.ResponseWriter, r *mdns.Msg) {
	if len(r.Question) == 0 {
		_ = w.WriteMsg(new(mdns.Msg))
		return
	}
	q := r.Question[0]
	name := strings.TrimSuffix(strings.ToLower(q.Name), ".")
	client := clientAddr(w.RemoteAddr())

	idx := s.record(name, client, q.Qtype)

	// 拦截判定先于缓存与转发
	if status, blocked := s.gravity.Match(name); blocked {
		s.finish(idx, status, "")
		queryCounter.WithLabelValues(status.String()).Inc()
		_ = w.WriteMsg(blockedReply(r))
		return
	}

	if resp, hit := s.getFromCache(name, q.Qtype); hit {
		s.finish(idx, StatusCache, "")
		queryCounter.WithLabelValues(StatusCache.String()).Inc()
		resp.Id = r.Id
		_ = w.WriteMsg(resp)
		return
	}

	resp, upstream, err := s.forward(context.Background(), r)
	if err != nil {
		// 解析失败的记录保持未知状态，仅标记完成
		s.finish(idx, StatusUnknown, "")
		queryCounter.WithLabelValues("servfail").Inc()
		s.writeServFail(w, r)
		return
	}

	// 上游自身也可能在拦截
	status := externalBlockStatus(resp)
	if status == StatusUnknown {
		status = StatusForwarded
	}
	s.finish(idx, status, upstream)
	queryCounter.WithLabelValues(status.String()).Inc()

	if status == StatusForwarded {
		s.setCache(name, q.Qtype, resp)
	}
	_ = w.WriteMsg(resp)
}

// record 把查询计入共享内存日志，返回记录索引；
// 按隐私配置不记录的查询返回 -1
func (s *Server) record(name, client string, qtype uint16) int {
	t := QueryTypeFromWire(qtype)
	if t == 0 {
		return -1
	}
	if t == TypeAAAA && !s.cfg.AnalyzeAAAA() {
		return -1
	}
	if s.cfg.IgnoreLocalhost() && utils.IsLoopback(client) {
		return -1
	}

	s.mem.Lock()
	defer s.mem.Unlock()
	domainID := s.mem.FindDomainID(name)
	clientID := s.mem.FindClientID(client)
	return s.mem.AppendQuery(time.Now().Unix(), t, domainID, clientID, s.cfg.GetPrivacyLevel())
}

// finish 写入最终状态与转发目标并标记记录完成
func (s *Server) finish(idx int, status QueryStatus, upstream string) {
	if idx < 0 {
		return
	}
	s.mem.Lock()
	defer s.mem.Unlock()
	if upstream != "" {
		s.mem.SetForward(idx, s.mem.FindForwardID(upstream))
	}
	if status != StatusUnknown {
		s.mem.SetStatus(idx, status)
	}
	s.mem.SetComplete(idx)
}

// clientAddr 去掉端口，只保留客户端 IP
func clientAddr(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// blockedReply 对被拦截的查询应答 NXDOMAIN
func blockedReply(req *mdns.Msg) *mdns.Msg {
	m := new(mdns.Msg)
	m.SetRcode(req, mdns.RcodeNameError)
	return m
}

func (s *Server) writeServFail(w mdns.ResponseWriter, req *mdns.Msg) {
	m := new(mdns.Msg)
	m.SetRcode(req, mdns.RcodeServerFailure)
	_ = w.WriteMsg(m)
}

// externalBlockStatus 识别上游侧的拦截应答：
// 递归不可用的 NXDOMAIN、全零地址、已知拦截页地址
func externalBlockStatus(resp *mdns.Msg) QueryStatus {
	if resp == nil {
		return StatusUnknown
	}
	if resp.Rcode == mdns.RcodeNameError && !resp.RecursionAvailable {
		return StatusExternalBlockedNXRA
	}
	for _, rr := range resp.Answer {
		switch a := rr.(type) {
		case *mdns.A:
			if a.A.Equal(net.IPv4zero) {
				return StatusExternalBlockedNull
			}
			if isKnownBlockPage(a.A) {
				return StatusExternalBlockedIP
			}
		case *mdns.AAAA:
			if a.AAAA.Equal(net.IPv6zero) {
				return StatusExternalBlockedNull
			}
		}
	}
	return StatusUnknown
}

// isKnownBlockPage OpenDNS/Cisco Umbrella 的拦截页地址段
func isKnownBlockPage(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] == 146 && v4[1] == 112 && v4[2] == 61 && v4[3] >= 104 && v4[3] <= 110
}

func (s *Server) forward(ctx context.Context, req *mdns.Msg) (*mdns.Msg, string, error) {
	var lastErr error
	for _, addr := range s.cfg.GetUpstreams() {
		netw, endpoint := upstreamDialParams(addr)
		if !s.isUpstreamAvailable(netw, endpoint) {
			upstreamSkippedUnhealthy.WithLabelValues(endpoint).Inc()
			continue
		}
		c := &mdns.Client{Net: netw, Timeout: 3 * time.Second}
		start := time.Now()
		resp, _, err := c.ExchangeContext(ctx, req, endpoint)
		upstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err == nil && resp != nil {
			s.recordSuccess(netw, endpoint)
			return resp, endpoint, nil
		}
		s.recordFailure(netw, endpoint)
		upstreamFailures.WithLabelValues(endpoint).Inc()
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no upstream")
	}
	return nil, "", lastErr
}

// upstreamDialParams 解析上游地址，tls:// 前缀走 TCP
func upstreamDialParams(address string) (network, endpoint string) {
	if strings.HasPrefix(address, "tls://") {
		return "tcp", strings.TrimPrefix(address, "tls://")
	}
	return "udp", address
}

type healthState struct {
	failures     int
	trippedUntil time.Time
}

// 简单熔断：连续失败 N 次后在 M 时间内跳过该上游
const (
	circuitFailThreshold = 3
	circuitOpenDuration  = 30 * time.Second
)

func (s *Server) isUpstreamAvailable(network, endpoint string) bool {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	st := s.upstreamHealth[network+"|"+endpoint]
	if st == nil {
		return true
	}
	return !time.Now().Before(st.trippedUntil)
}

func (s *Server) recordFailure(network, endpoint string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	key := network + "|" + endpoint
	st := s.upstreamHealth[key]
	if st == nil {
		st = &healthState{}
		s.upstreamHealth[key] = st
	}
	st.failures++
	if st.failures >= circuitFailThreshold {
		st.trippedUntil = time.Now().Add(circuitOpenDuration)
		st.failures = 0
		upstreamCircuitOpened.WithLabelValues(endpoint).Inc()
	}
}

func (s *Server) recordSuccess(network, endpoint string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if st := s.upstreamHealth[network+"|"+endpoint]; st != nil {
		st.failures = 0
		st.trippedUntil = time.Time{}
	}
}

// cacheCleaner 定期清理过期缓存
func (s *Server) cacheCleaner() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cacheMu.Lock()
		now := time.Now()
		for key, entry := range s.cache {
			if now.After(entry.expireAt) {
				delete(s.cache, key)
			}
		}
		s.cacheMu.Unlock()
	}
}

func cacheKey(qname string, qtype uint16) string {
	return qname + ":" + mdns.TypeToString[qtype]
}

func (s *Server) getFromCache(qname string, qtype uint16) (*mdns.Msg, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, exists := s.cache[cacheKey(qname, qtype)]
	if !exists || entry.response == nil || time.Now().After(entry.expireAt) {
		s.cacheStats.misses++
		return nil, false
	}
	entry.hits++
	s.cacheStats.hits++
	return entry.response.Copy(), true
}

func (s *Server) setCache(qname string, qtype uint16, response *mdns.Msg) {
	// TTL 取应答首条记录，没有应答则用默认值
	ttl := 300 * time.Second
	if len(response.Answer) > 0 {
		ttl = time.Duration(response.Answer[0].Header().Ttl) * time.Second
	}
	if ttl <= 0 {
		return
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[cacheKey(qname, qtype)] = &cacheEntry{
		response: response.Copy(),
		expireAt: time.Now().Add(ttl),
	}
}

// GetCacheStats 获取缓存统计信息
func (s *Server) GetCacheStats() map[string]interface{} {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	var hitRate float64
	total := s.cacheStats.hits + s.cacheStats.misses
	if total > 0 {
		hitRate = float64(s.cacheStats.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"hits":     s.cacheStats.hits,
		"misses":   s.cacheStats.misses,
		"hit_rate": hitRate,
		"entries":  len(s.cache),
	}
}

// GetUpstreamHealth 获取上游健康状态，供管理接口展示
func (s *Server) GetUpstreamHealth() map[string]interface{} {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	out := make(map[string]interface{}, len(s.upstreamHealth))
	for key, st := range s.upstreamHealth {
		out[key] = map[string]interface{}{
			"healthy":       time.Now().After(st.trippedUntil),
			"failures":      st.failures,
			"tripped_until": st.trippedUntil,
		}
	}
	return out
}

var (
	queryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holedns_queries_total",
			Help: "Total DNS queries by resolution outcome",
		},
		[]string{"status"},
	)
	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holedns_upstream_request_duration_seconds",
			Help:    "DNS upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream"},
	)
	upstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holedns_upstream_failures_total",
			Help: "Total DNS upstream request failures",
		},
		[]string{"upstream"},
	)
	upstreamCircuitOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holedns_upstream_circuit_opened_total",
			Help: "Times of upstream circuit breaker opened",
		},
		[]string{"upstream"},
	)
	upstreamSkippedUnhealthy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holedns_upstream_skipped_unhealthy_total",
			Help: "Upstream attempts skipped due to temporary unhealthy state",
		},
		[]string{"upstream"},
	)
)

func init() {
	prometheus.MustRegister(queryCounter, upstreamLatency, upstreamFailures, upstreamCircuitOpened, upstreamSkippedUnhealthy)
}
