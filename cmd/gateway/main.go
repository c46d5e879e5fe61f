package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RouterGate/internal/dashboard"
	"RouterGate/internal/router"
	"RouterGate/internal/terminal"
	"RouterGate/internal/user"
	"RouterGate/pkg/bootstrap"
	"RouterGate/pkg/config"
	"RouterGate/pkg/db/mysql"
	rdb "RouterGate/pkg/db/redis"
	"RouterGate/pkg/monitor"
	"RouterGate/pkg/routeros"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "config.gateway.yaml", "path to gateway config yaml")
	flag.Parse()

	cleanup, err := bootstrap.InitAll(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	rosCfg := config.Conf.RouterOSConfig
	termCfg := config.Conf.TerminalConfig
	dialer := routeros.NewAPIDialer(routeros.APIDialerConfig{
		DialTimeout: rosCfg.DialTimeout(),
		TLSConfig:   &tls.Config{InsecureSkipVerify: rosCfg.TLSSkipVerify},
	})
	opts := routeros.Options{
		DialTimeout:    rosCfg.DialTimeout(),
		CommandTimeout: rosCfg.CommandTimeout(),
		IdleTimeout:    rosCfg.IdleTimeoutDuration(),
		ReapInterval:   rosCfg.ReapIntervalDuration(),
		RetryBackoff:   rosCfg.RetryBackoff(),
		QueueSize:      rosCfg.QueueSize,
	}

	// polling sessions are shared by every dashboard and API caller
	statusStore := router.NewRedisStatusStore(rdb.Rdb, config.Conf.StatusConfig.KeyPrefix, time.Duration(config.Conf.StatusConfig.TTL)*time.Second)
	status := router.NewStatusPublisher(statusStore, 0)
	polling := routeros.NewManager(dialer, opts, routeros.WithName("polling"), routeros.WithObserver(status))

	// api-mode terminals get their own sessions so a console never queues behind polls
	termOpts := opts
	termOpts.IdleTimeout = termCfg.IdleTimeoutDuration()
	termOpts.ReapInterval = 0
	termSessions := routeros.NewManager(dialer, termOpts, routeros.WithName("terminal"))

	routers := router.NewService(router.NewRepository(mysql.DB), polling, statusStore)
	dash := dashboard.NewService(polling, dashboard.NewRedisCache(rdb.Rdb), dashboard.Options{
		CacheTTL:  config.Conf.DashboardConfig.CacheTTL(),
		KeyPrefix: config.Conf.StatusConfig.KeyPrefix,
		LogLimit:  config.Conf.DashboardConfig.LogLimit,
	})

	terminals, err := terminal.NewManager(termCfg.MaxChannels, config.Conf.MachineID)
	if err != nil {
		zap.L().Fatal("init terminal manager failed", zap.Error(err))
	}
	termHandler := terminal.NewHandler(terminals, routers, map[string]terminal.Opener{
		terminal.ModeSSH: terminal.NewSSHOpener(terminal.SSHOptions{Term: termCfg.Term, DialTimeout: rosCfg.DialTimeout()}),
		terminal.ModeAPI: terminal.NewAPIOpener(termSessions),
	}, terminal.Config{
		Mode: termCfg.Mode,
		Size: terminal.Size{Cols: termCfg.Cols, Rows: termCfg.Rows},
		Relay: terminal.RelayOptions{
			PongWait:  termCfg.PongWaitDuration(),
			WriteWait: termCfg.WriteWaitDuration(),
		},
	})

	sampleCtx, stopSampling := context.WithCancel(context.Background())
	monitor.StartSampler(sampleCtx, 5*time.Second)
	go sampleSessions(sampleCtx, polling, termSessions)

	r := InitRouter(routers, dash, termHandler, user.NewRepository(mysql.DB))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Conf.Port),
		Handler: r,
	}

	go func() {
		zap.L().Info("starting routergate http server", zap.Int("port", config.Conf.Port), zap.String("version", config.Conf.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("http server error", zap.Error(err))
		}
	}()

	// wait for termination
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("shutting down routergate...")

	// hijacked websockets are not tracked by Shutdown
	terminals.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Error("server shutdown error", zap.Error(err))
	}

	stopSampling()
	termSessions.Close()
	polling.Close()
	status.Close()
	zap.L().Info("routergate exited")
}

// sampleSessions exports the number of open sessions per manager.
func sampleSessions(ctx context.Context, managers ...*routeros.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range managers {
				monitor.RouterSessions.WithLabelValues(m.Name()).Set(float64(m.Len()))
			}
		}
	}
}
