package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/crypto-morph/newsfinder/internal/app"
	"github.com/crypto-morph/newsfinder/internal/config"
	"github.com/crypto-morph/newsfinder/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		c.config = &cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.New("info")
	}
	return logging.NewWithFormat(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
}

// withApp builds the application for one command and closes it afterwards.
func (c *commandContext) withApp(ctx context.Context, fn func(*app.Application) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	application, err := app.New(ctx, *cfg, c.logger())
	if err != nil {
		return err
	}
	runErr := fn(application)
	if closeErr := application.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
