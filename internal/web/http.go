package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quhao/holedns/internal/dns"
)

type Api struct {
	srv     *dns.Server
	mem     *dns.MemoryLog
	db      *dns.Database
	gravity *dns.GravityManager
	cfg     *dns.Config
	token   string
	started time.Time
}

func BindRoutes(r *chi.Mux, srv *dns.Server, mem *dns.MemoryLog, db *dns.Database, gravity *dns.GravityManager, cfg *dns.Config) {
	api := &Api{
		srv:     srv,
		mem:     mem,
		db:      db,
		gravity: gravity,
		cfg:     cfg,
		token:   cfg.AdminToken,
		started: time.Now(),
	}

	// 中间件
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(10*time.Second))

	// API路由
	r.Get("/api/health", api.health)
	r.Group(func(pr chi.Router) {
		pr.Use(api.auth)
		pr.Get("/api/stats", api.getStats)
		pr.Get("/api/queries", api.getQueries)
		pr.Get("/api/overtime", api.getOverTime)
		pr.Get("/api/top/blocked", api.getTopBlocked)
		pr.Get("/api/upstreams", api.getUpstreams)
		pr.Get("/api/cache/stats", api.getCacheStats)

		// 拦截列表相关API
		pr.Get("/api/gravity/status", api.getGravityStatus)
		pr.Post("/api/gravity/update", api.updateGravity)

		// 长期数据库相关API
		pr.Get("/api/database", api.getDatabase)
		pr.Post("/api/database/gc", api.requestGC)
	})
}

func (a *Api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 如果token为空，跳过认证
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != a.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Api) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":     true,
		"uptime": time.Since(a.started).String(),
	})
}

// 获取全局统计
func (a *Api) getStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	c := a.mem.CountersSnapshot()

	var blockRate float64
	if c.Queries > 0 {
		blockRate = float64(c.Blocked) / float64(c.Queries) * 100
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"queries":       c.Queries,
		"blocked":       c.Blocked,
		"cached":        c.Cached,
		"forwarded":     c.Forwarded,
		"unknown":       c.Unknown,
		"block_rate":    blockRate,
		"privacy_level": int(a.cfg.GetPrivacyLevel()),
	})
}

// 获取最近查询记录
func (a *Api) getQueries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	limit := 200 // 默认200条
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	items := a.mem.RecentQueries(limit)
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

// 获取时间桶聚合
func (a *Api) getOverTime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	buckets := a.mem.OverTimeSnapshot()
	out := make(map[string]any, len(buckets))
	for ts, b := range buckets {
		out[strconv.FormatInt(ts, 10)] = map[string]any{
			"total":     b.Total,
			"blocked":   b.Blocked,
			"forwarded": b.Forwarded,
			"cached":    b.Cached,
		}
	}
	_ = json.NewEncoder(w).Encode(out)
}

// 获取拦截最多的域名
func (a *Api) getTopBlocked(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	_ = json.NewEncoder(w).Encode(a.mem.TopBlockedDomains(limit))
}

// 获取上游健康状态
func (a *Api) getUpstreams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	_ = json.NewEncoder(w).Encode(map[string]any{
		"configured": a.cfg.GetUpstreams(),
		"health":     a.srv.GetUpstreamHealth(),
	})
}

// 获取缓存统计
func (a *Api) getCacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(a.srv.GetCacheStats())
}

// 获取拦截列表状态
func (a *Api) getGravityStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(a.gravity.Status())
}

// 手动触发拦截列表更新
func (a *Api) updateGravity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if err := a.gravity.UpdateNow(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// 获取长期数据库状态
func (a *Api) getDatabase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	_ = json.NewEncoder(w).Encode(map[string]any{
		"enabled":     a.cfg.IsPersistenceEnabled(),
		"available":   a.db.Available(),
		"file":        a.cfg.GetDatabaseFile(),
		"queries":     a.db.TotalQueriesInDB(),
		"cursor":      a.db.Cursor(),
		"max_db_days": a.cfg.GetMaxDBDays(),
	})
}

// 请求过期数据回收，由调度循环在下个周期执行
func (a *Api) requestGC(w http.ResponseWriter, r *http.Request) {
	a.db.RequestGC()
	w.WriteHeader(http.StatusAccepted)
}
