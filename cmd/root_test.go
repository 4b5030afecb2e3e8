package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"run", "status", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "harvest-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"keyword", "locale", "max-pages"} {
		flag := runCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag, "run command should have --%s flag", flagName)
	}

	maxPages := runCmd.Flags().Lookup("max-pages")
	assert.Equal(t, "0", maxPages.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	limit := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "status command should have --limit flag")
	assert.Equal(t, "10", limit.DefValue)

	jsonFlag := statusCmd.Flags().Lookup("json")
	require.NotNil(t, jsonFlag, "status command should have --json flag")
	assert.Equal(t, "false", jsonFlag.DefValue)

	checkSync := statusCmd.Flags().Lookup("check-sync")
	require.NotNil(t, checkSync, "status command should have --check-sync flag")
	assert.Equal(t, "false", checkSync.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
