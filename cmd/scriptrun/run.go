package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/reload"
	"github.com/embercore/hotscript/runtime"
	"github.com/embercore/hotscript/world"
)

type app struct {
	cfg     Config
	log     *zap.Logger
	rt      *runtime.Runtime
	w       *world.World
	mgr     *reload.Manager
	scripts []string
}

func run(ctx context.Context, cfg Config, interactive bool) error {
	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	wireLoggers(log)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if interactive {
		return a.runInspector()
	}
	return a.runHeadless(ctx)
}

func newApp(ctx context.Context, cfg Config, log *zap.Logger) (*app, error) {
	w := world.NewWorld()
	rt, err := runtime.New(runtime.Config{
		World: w,
		Engine: func(host engine.HostTable) (engine.Engine, error) {
			return engine.NewWazeroEngine(ctx, host, &engine.WazeroConfig{
				MemoryLimitPages: cfg.MemoryPages,
			})
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
		UpdateTimeout:   cfg.UpdateTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	a := &app{cfg: cfg, log: log, rt: rt, w: w}

	matches, err := filepath.Glob(filepath.Join(cfg.ScriptDir, "*.wasm"))
	if err != nil {
		a.close()
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		a.close()
		return nil, fmt.Errorf("no .wasm scripts in %s", cfg.ScriptDir)
	}

	// Each script gets one instance on its own entity. Priorities follow
	// load order, so scripts can rely on alphabetical scheduling.
	paths := make(map[string]string, len(matches))
	for i, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".wasm")
		if _, err := rt.LoadScript(ctx, name, path); err != nil {
			a.close()
			return nil, err
		}
		handle, status := w.CreateEntity(world.EntitySpec{Transform: world.Identity()})
		if !status.OK() {
			a.close()
			return nil, fmt.Errorf("create entity for %s: %s", name, status)
		}
		if _, err := rt.Attach(ctx, handle, name, events.PhaseUpdate, i); err != nil {
			a.close()
			return nil, err
		}
		paths[name] = path
		a.scripts = append(a.scripts, name)
		log.Info("script loaded", zap.String("script", name), zap.String("path", path))
	}

	a.mgr = reload.NewManager(reload.Config{
		Runtime:     rt,
		Builder:     &commandBuilder{command: cfg.BuildCommand, paths: paths},
		CallTimeout: cfg.UpdateTimeout,
	})
	return a, nil
}

// step applies any pending reload at the frame boundary, then runs one
// frame. All failures are already logged; the report is for display.
func (a *app) step(ctx context.Context, dt float32) runtime.FrameReport {
	a.mgr.ApplyPending(ctx)
	return a.rt.Frame(ctx, dt)
}

func (a *app) runHeadless(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(a.cfg.frameInterval())
	defer ticker.Stop()
	dt := float32(a.cfg.frameInterval().Seconds())

	frames := 0
	failures := 0
	for {
		select {
		case <-ctx.Done():
			a.log.Info("interrupted", zap.Int("frames", frames))
			return nil
		case <-ticker.C:
			report := a.step(ctx, dt)
			failures += len(report.UpdateErrors)
			frames++
			if a.cfg.Frames > 0 && frames >= a.cfg.Frames {
				a.log.Info("run complete",
					zap.Int("frames", frames),
					zap.Int("update_failures", failures),
					zap.Int("entities", a.w.Len()),
					zap.Int("instances", a.rt.Registry().Len()))
				return nil
			}
		}
	}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.rt.Close(ctx); err != nil {
		a.log.Warn("runtime close", zap.Error(err))
	}
}
