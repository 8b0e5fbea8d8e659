package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"wbtn"
	"wbtn/internal/config"
	"wbtn/internal/container"
	"wbtn/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

// openOptions translates the loaded configuration into open options for one
// container, on top of the given mode.
func (c *commandContext) openOptions(mode container.Mode) ([]wbtn.Option, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	opts := []wbtn.Option{
		wbtn.WithMode(mode),
		wbtn.WithLogger(logger),
		wbtn.WithConvertAbsolute(cfg.Paths.ConvertAbsolute),
		wbtn.WithFallbackBaseDir(cfg.Paths.FallbackBaseDir),
	}
	if cfg.Container.JournalMode != "" {
		opts = append(opts, wbtn.WithJournalMode(cfg.Container.JournalMode))
	}
	if cfg.Paths.BaseDir != "" {
		opts = append(opts, wbtn.WithBaseDir(cfg.Paths.BaseDir))
	}
	if cfg.Paths.SelfContained {
		opts = append(opts, wbtn.WithSelfContained())
	}
	if cfg.Values.PrimitiveTags {
		opts = append(opts, wbtn.WithPrimitiveTags())
	}
	if cfg.Values.StrictLoad {
		opts = append(opts, wbtn.WithStrictLoad())
	}
	return opts, nil
}

// withContainer locks the container file against concurrent CLI runs, opens
// it and hands it to fn. The lock lives in a sidecar so a read-only open
// never has to write the container itself.
func (c *commandContext) withContainer(ctx context.Context, path string, mode container.Mode, extra []wbtn.Option, fn func(*wbtn.Webtoon) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	opts, err := c.openOptions(mode)
	if err != nil {
		return err
	}
	opts = append(opts, extra...)

	lockCtx := ctx
	if cfg.Container.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Container.LockTimeout)*time.Second)
		defer cancel()
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: held by another process", path)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	w, err := wbtn.Open(ctx, path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()
	return fn(w)
}
