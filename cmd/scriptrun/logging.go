package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/reload"
	"github.com/embercore/hotscript/runtime"
	"github.com/embercore/hotscript/script"
)

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// wireLoggers hands the process logger to every package seam.
func wireLoggers(l *zap.Logger) {
	engine.SetLogger(l.Named("engine"))
	loader.SetLogger(l.Named("loader"))
	script.SetLogger(l.Named("script"))
	runtime.SetLogger(l.Named("runtime"))
	reload.SetLogger(l.Named("reload"))
}
