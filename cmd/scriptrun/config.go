package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the runner's environment-driven configuration. Command line
// flags override individual fields after parsing.
type Config struct {
	// ScriptDir holds one .wasm binary per script definition; the file
	// base name becomes the script name.
	ScriptDir string `env:"SCRIPTRUN_SCRIPT_DIR" envDefault:"./scripts"`

	// BuildCommand rebuilds a script for hot reload. It runs under
	// `sh -c` with SCRIPT and SCRIPT_PATH exported. Empty means reloads
	// pick up the existing file as-is.
	BuildCommand string `env:"SCRIPTRUN_BUILD_CMD"`

	// FrameRate is the target frames per second.
	FrameRate int `env:"SCRIPTRUN_FRAME_RATE" envDefault:"60"`

	// Frames bounds a non-interactive run; 0 runs until interrupted.
	Frames int `env:"SCRIPTRUN_FRAMES"`

	// UpdateTimeout is the watchdog bound on script update calls.
	UpdateTimeout time.Duration `env:"SCRIPTRUN_UPDATE_TIMEOUT" envDefault:"100ms"`

	// ShutdownTimeout is the watchdog bound on script shutdown calls.
	ShutdownTimeout time.Duration `env:"SCRIPTRUN_SHUTDOWN_TIMEOUT" envDefault:"1s"`

	// MemoryPages caps each module's linear memory in 64KB pages.
	MemoryPages uint32 `env:"SCRIPTRUN_MEMORY_PAGES" envDefault:"256"`

	LogLevel string `env:"SCRIPTRUN_LOG_LEVEL" envDefault:"info"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.FrameRate <= 0 {
		return cfg, fmt.Errorf("frame rate must be positive, got %d", cfg.FrameRate)
	}
	return cfg, nil
}

func (c Config) frameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}
