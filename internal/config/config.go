// Package config defines the reactor's enumerated configuration surface
// and populates it from command-line flags, mirroring the constructor
// parameters the original WebServer took directly.
package config

import (
	"flag"
	"fmt"

	"github.com/go-reactor/webreactor/internal/logging"
	"github.com/go-reactor/webreactor/internal/reactor"
)

// Config is the full set of options a deployment can set, spanning both
// the reactor core and its database/logging collaborators.
type Config struct {
	Port      int
	TrigMode  int
	TimeoutMs int
	OptLinger bool
	ThreadNum int
	SrcDir    string
	MaxFD     int

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBPoolSize int

	OpenLog      bool
	LogLevel     int
	LogQueueSize int
}

// Parse populates a Config from args (typically os.Args[1:]), applying the
// same defaults the original constructor used.
func Parse(args []string) (Config, error) {
	cfg := Config{}
	fs := flag.NewFlagSet("webreactord", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", 1316, "listener TCP port")
	fs.IntVar(&cfg.TrigMode, "trig-mode", 3, "0 neither / 1 conn-ET / 2 listen-ET / 3 both ET")
	fs.IntVar(&cfg.TimeoutMs, "timeout-ms", 60000, "per-connection idle expiry; <=0 disables the reaper")
	fs.BoolVar(&cfg.OptLinger, "opt-linger", false, "set SO_LINGER for graceful close")
	fs.IntVar(&cfg.ThreadNum, "thread-num", 8, "worker pool size")
	fs.StringVar(&cfg.SrcDir, "src-dir", "./resources", "static content root")
	fs.IntVar(&cfg.MaxFD, "max-fd", 65536, "maximum concurrent connections")

	fs.StringVar(&cfg.DBHost, "db-host", "localhost", "MySQL host")
	fs.IntVar(&cfg.DBPort, "db-port", 3306, "MySQL port")
	fs.StringVar(&cfg.DBUser, "db-user", "root", "MySQL user")
	fs.StringVar(&cfg.DBPassword, "db-password", "", "MySQL password")
	fs.StringVar(&cfg.DBName, "db-name", "webreactor", "MySQL database name")
	fs.IntVar(&cfg.DBPoolSize, "db-pool-size", 12, "maximum concurrent database leases; connections are opened on demand, not up front")

	fs.BoolVar(&cfg.OpenLog, "open-log", true, "enable structured logging")
	fs.IntVar(&cfg.LogLevel, "log-level", 1, "0 debug / 1 info / 2 warn / 3 error")
	fs.IntVar(&cfg.LogQueueSize, "log-queue-size", 1024, "async log write buffer size; 0 disables buffering")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range [1024,65535]", cfg.Port)
	}
	return cfg, nil
}

// ReactorConfig projects the reactor-relevant fields into reactor.Config.
func (c Config) ReactorConfig() reactor.Config {
	return reactor.Config{
		Port:      c.Port,
		TrigMode:  c.TrigMode,
		TimeoutMs: c.TimeoutMs,
		OptLinger: c.OptLinger,
		ThreadNum: c.ThreadNum,
		SrcDir:    c.SrcDir,
		MaxFD:     c.MaxFD,
	}
}

// LoggingOptions projects the logging-relevant fields into logging.Options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Enabled:      c.OpenLog,
		Level:        logging.Level(c.LogLevel),
		LogQueueSize: c.LogQueueSize,
	}
}
