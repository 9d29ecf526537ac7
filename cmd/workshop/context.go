package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/services"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
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
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", resolved, err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "ensure directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// loadSlots reads the inventory, preferring override when set.
func (c *commandContext) loadSlots(cfg *config.Config, override string) ([]fleet.Slot, error) {
	path := cfg.Fleet.Inventory
	if override = strings.TrimSpace(override); override != "" {
		expanded, err := config.ExpandPath(override)
		if err != nil {
			return nil, fmt.Errorf("resolve inventory path: %w", err)
		}
		path = expanded
	}
	slots, err := fleet.LoadInventory(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "fleet", "load inventory", path, err)
	}
	return slots, nil
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
