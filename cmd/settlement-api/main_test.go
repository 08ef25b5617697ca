package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "default", args: []string{"settlement-api"}, want: "config.yaml"},
		{name: "long flag", args: []string{"settlement-api", "--config", "prod.yaml"}, want: "prod.yaml"},
		{name: "alias", args: []string{"settlement-api", "-c", "dev.json"}, want: "dev.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			cmd := newCommand()
			cmd.Action = func(c *cli.Context) error {
				got = c.String("config")
				return nil
			}
			require.NoError(t, cmd.Run(tt.args))
			assert.Equal(t, tt.want, got)
		})
	}
}
