package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"discarchive/internal/config"
	"discarchive/internal/jobqueue"
	"discarchive/internal/logging"
	"discarchive/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	store *queue.Store
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
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// openStore opens the queue database once per invocation.
func (c *commandContext) openStore() (*queue.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := queue.OpenPath(cfg.DatabasePath(), logging.NewNop())
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

// jobQueue returns a queue handle for enqueue and revoke. It never runs jobs;
// the daemon picks up whatever this process writes.
func (c *commandContext) jobQueue() (*jobqueue.Queue, error) {
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	return jobqueue.New(store, nil, c.config, logging.NewNop()), nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
