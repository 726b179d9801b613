// Command editor-gateway serves the code editor page and forwards submitted
// code to a remote execution backend and a local analysis service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/config"
	resteditor "github.com/codepad-dev/editor-gateway/cmd/editor-gateway/rest_editor"
	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/version"
	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/web"
	"github.com/codepad-dev/editor-gateway/forward"
	"github.com/codepad-dev/editor-gateway/language"
	"github.com/coreos/go-systemd/v22/daemon"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}

	languages := loadLanguages(conf)
	logger.Info("Languages loaded", zap.Strings("labels", languages.Labels()))

	servers := []initFunc{
		initHTTPServer(conf, languages),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / Monitor HTTP server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}
	notifySystemd(daemon.SdNotifyReady)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")
	notifySystemd(daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*3)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

func loadLanguages(conf *config.Config) *language.Table {
	if conf.LanguageConf == "" {
		return language.Default()
	}
	t, err := language.Load(conf.LanguageConf)
	if err != nil {
		logger.Fatal("load language table failed", zap.String("path", conf.LanguageConf), zap.Error(err))
	}
	return t
}

func notifySystemd(state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemd notify failed", zap.String("state", state), zap.Error(err))
		return
	}
	if ok {
		logger.Debug("systemd notified", zap.String("state", state))
	}
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func initHTTPServer(conf *config.Config, languages *language.Table) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init http handle
		r := initHTTPMux(conf, languages)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				lis, err := newListener(httpSocketName, conf.HTTPAddr)
				if err != nil {
					logger.Error("Http server listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr), zap.String("listener", printListener(lis)))
				if err := srv.Serve(lis); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init monitor HTTP server
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				lis, err := newListener(monitorSocketName, conf.MonitorAddr)
				if err != nil {
					logger.Error("Monitoring http listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr), zap.String("listener", printListener(lis)))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.Serve(lis)))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func upstreamConfig(conf *config.Config) forward.Config {
	fc := forward.Config{
		Timeout:         conf.UpstreamTimeout,
		Retry:           conf.UpstreamRetry,
		MaxResponseSize: conf.MaxResponseSize,
		Logger:          logger,
	}
	if conf.EnableMetrics {
		fc.Observer = upstreamObserve
	}
	return fc
}

func initHTTPMux(conf *config.Config, languages *language.Table) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	var resolver resteditor.Resolver = languages
	if conf.EnableMetrics {
		initGinMetrics(r)
		resolver = &metricsResolver{languages}
	}

	// Version handle
	r.GET("/version", generateHandleVersion())

	// Page Handle
	tmpl, err := web.Templates()
	if err != nil {
		logger.Fatal("parse editor template failed", zap.Error(err))
	}
	resteditor.NewPageHandle(tmpl, web.Static(), languages).Register(r)

	// Rest Handle
	uc := upstreamConfig(conf)
	executor := forward.NewExecutor(conf.PistonURL, conf.PistonVersion, uc)
	resteditor.NewExecuteHandle(resolver, executor, logger).Register(r)

	analyzer, err := forward.NewAnalyzer(conf.AnalysisURL, uc)
	if err != nil {
		logger.Fatal("invalid analysis url", zap.String("url", conf.AnalysisURL), zap.Error(err))
	}
	resteditor.NewAnalysisHandle(analyzer, logger).Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func generateHandleVersion() func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"buildVersion": version.Version,
			"goVersion":    runtime.Version(),
			"platform":     runtime.GOARCH,
			"os":           runtime.GOOS,
		})
	}
}
