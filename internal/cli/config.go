package cli

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds every tunable the serve command reads.
// Priority: env vars (LAZERFLOW_*) > lazerflow.yaml > defaults.
type ServerConfig struct {
	ListenAddr             string
	DBPath                 string
	LogLevel               string
	DefaultStepTimeout     time.Duration
	MaxStepTimeout         time.Duration
	MaxConcurrentWorkflows int
	ScheduleInterval       time.Duration
}

func loadServerConfig() (ServerConfig, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":4800")
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("default_step_timeout", "2m")
	v.SetDefault("max_step_timeout", "10m")
	v.SetDefault("max_concurrent_workflows", 0)
	v.SetDefault("schedule_interval", "60s")

	v.SetConfigName("lazerflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.lazerflow")

	v.SetEnvPrefix("LAZERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return ServerConfig{}, err
		}
	}

	return ServerConfig{
		ListenAddr:             v.GetString("listen_addr"),
		DBPath:                 v.GetString("db_path"),
		LogLevel:               v.GetString("log_level"),
		DefaultStepTimeout:     v.GetDuration("default_step_timeout"),
		MaxStepTimeout:         v.GetDuration("max_step_timeout"),
		MaxConcurrentWorkflows: v.GetInt("max_concurrent_workflows"),
		ScheduleInterval:       v.GetDuration("schedule_interval"),
	}, nil
}

// clientAddr resolves the server address for client commands:
// --addr flag, then LAZERFLOW_ADDR, then the default port.
func clientAddr(app *App) string {
	if app.Addr != "" {
		return normalizeAddr(app.Addr)
	}
	v := viper.New()
	v.SetEnvPrefix("LAZERFLOW")
	v.AutomaticEnv()
	if addr := v.GetString("addr"); addr != "" {
		return normalizeAddr(addr)
	}
	return "http://localhost:4800"
}

func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + strings.TrimRight(addr, "/")
}
