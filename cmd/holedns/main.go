package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/quhao/holedns/internal/dns"
	admin "github.com/quhao/holedns/internal/web"
	"github.com/quhao/holedns/pkg/logger"
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*dns.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg dns.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Output:  cfg.Logging.Output,
		MaxSize: cfg.Logging.MaxSize,
		Prefix:  "holedns",
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Close()
	log.SetOutput(lg.Writer())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 共享内存日志
	mem := dns.NewMemoryLog()

	// 拦截列表管理器
	gravity := dns.NewGravityManager(cfg)
	go gravity.Start(ctx)

	// 长期数据库：先打开并回灌历史记录，再启动写回调度
	db := dns.NewDatabase(cfg)
	if imported := db.ImportRecent(mem); imported > 0 {
		lg.Info("imported %d queries from long-term database", imported)
	}
	go db.Run(ctx, mem)

	// DNS server
	server := dns.NewServer(cfg, mem, gravity)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenDNS)
	if err != nil {
		lg.Fatal("udp addr: %v", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		lg.Fatal("listen udp: %v", err)
	}
	go server.ServeUDP(udpConn)

	tcpLn, err := net.Listen("tcp", cfg.ListenDNS)
	if err != nil {
		lg.Fatal("listen tcp: %v", err)
	}
	go server.ServeTCP(tcpLn)

	// Admin HTTP
	r := chi.NewRouter()
	admin.BindRoutes(r, server, mem, db, gravity, cfg)
	r.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.ListenHTTP, Handler: r}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("http serve: %v", err)
		}
	}()

	lg.Info("holedns started: dns=%s http=%s db=%q", cfg.ListenDNS, cfg.ListenHTTP, cfg.GetDatabaseFile())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			lg.Info("SIGHUP received, updating blocking lists")
			go func() { _ = gravity.UpdateNow(ctx) }()
			continue
		}
		lg.Info("%v received, shutting down", s)
		break
	}

	cancel()
	_ = httpSrv.Shutdown(context.Background())

	// 退出前把未落库的记录写回
	mem.Lock()
	res := db.Flush(mem, db.Cursor())
	mem.Unlock()
	lg.Info("final flush: %d saved, %d failed", res.Saved, res.Failed)
}
