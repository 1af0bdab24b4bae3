// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["buy"], "buy command must be registered")
	assert.True(t, names["history"], "history command must be registered")
}

func TestRootCmd_VersionTemplate(t *testing.T) {
	require.NotEmpty(t, Version)
	assert.Equal(t, Version, rootCmd.Version)
}
