package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rsi", cmd.Use)
	assert.Contains(t, cmd.Long, "policy document")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"cycle", "stage", "status", "halt", "resume", "escalations", "watch", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, DefaultConfigPath, configFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("base"))
}

func TestAliasFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"full-cycle", "status", "halt", "resume", "stage", "reason"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag --%s", name)
	}
}

func TestAliasFlagsAreExclusive(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "--halt", "--resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	interval := watchCmd.Flags().Lookup("interval")
	require.NotNil(t, interval)
	assert.Equal(t, "0s", interval.DefValue)
	require.NotNil(t, watchCmd.Flags().Lookup("min-gap"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "status", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
}
