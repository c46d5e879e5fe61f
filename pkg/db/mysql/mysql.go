package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"RouterGate/pkg/config"
	"RouterGate/pkg/monitor"

	mysql_with_hooks "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/qustavo/sqlhooks/v2"
	"go.uber.org/zap"
)

const driverName = "monitor_hook_mysql"

var DB *sqlx.DB
var Monitor *monitor.Monitor

var registerOnce sync.Once

type taskKey struct{}

type monitorHook struct {
	monitor *monitor.Monitor
}

func (h *monitorHook) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, taskKey{}, monitor.NewTask()), nil
}

func (h *monitorHook) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if t, ok := ctx.Value(taskKey{}).(*monitor.Task); ok && h.monitor != nil {
		h.monitor.CompleteTask(t, true)
	}
	return ctx, nil
}

func (h *monitorHook) OnError(ctx context.Context, err error, query string, args ...interface{}) error {
	if t, ok := ctx.Value(taskKey{}).(*monitor.Task); ok && h.monitor != nil {
		h.monitor.CompleteTask(t, false)
	}
	zap.L().Warn("mysql query failed", zap.String("query", query), zap.Error(err))
	return err
}

// DSN builds the go-sql-driver DSN for cfg.
func DSN(cfg *config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

func Init(cfg *config.MySQLConfig) (err error) {
	if cfg == nil {
		return fmt.Errorf("mysql config is missing")
	}
	Monitor = monitor.NewMonitor("mysql", 100, 60000)
	monitor.Register(Monitor)
	registerOnce.Do(func() {
		sql.Register(driverName, sqlhooks.Wrap(&mysql_with_hooks.MySQLDriver{}, &monitorHook{monitor: Monitor}))
	})

	t := monitor.NewTask()
	DB, err = sqlx.Connect(driverName, DSN(cfg))
	Monitor.CompleteTask(t, err == nil)
	if err != nil {
		return err
	}
	if cfg.MaxOpenConns > 0 {
		DB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		DB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	zap.L().Info("mysql connected", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
	return nil
}

func Close() {
	if DB != nil {
		_ = DB.Close()
	}
}
