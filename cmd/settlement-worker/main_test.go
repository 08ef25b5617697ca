package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"deferred-estate/settlement-backend/internal/scheduler"
)

func TestCommand_RunRequiresJobName(t *testing.T) {
	err := newCommand().RunContext(context.Background(), []string{"settlement-worker", "run"})
	assert.EqualError(t, err, "job name is required")
}

func TestCommand_RunReadsParentConfigFlag(t *testing.T) {
	var configPath, job string
	cmd := newCommand()
	cmd.Commands[0].Action = func(c *cli.Context) error {
		configPath = c.String("config")
		job = c.Args().First()
		return nil
	}

	err := cmd.RunContext(context.Background(), []string{"settlement-worker", "--config", "prod.yaml", "run", scheduler.JobCloseExpired})
	require.NoError(t, err)
	assert.Equal(t, "prod.yaml", configPath)
	assert.Equal(t, scheduler.JobCloseExpired, job)
}

func TestCommand_ConfigFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/settlement/config.yaml")
	var configPath string
	cmd := newCommand()
	cmd.Action = func(c *cli.Context) error {
		configPath = c.String("config")
		return nil
	}

	require.NoError(t, cmd.RunContext(context.Background(), []string{"settlement-worker"}))
	assert.Equal(t, "/etc/settlement/config.yaml", configPath)
}
