package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "reveal", cmd.Use)
	assert.Contains(t, cmd.Long, "disclosure")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"validate", "simulate", "track", "inspect"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	settings := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, settings)
	assert.Equal(t, "reveal.yaml", settings.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"validate", []string{"watch", "strict"}},
		{"simulate", []string{"trace", "golden", "update"}},
		{"track", []string{"db", "doc", "user", "area", "action"}},
		{"inspect", []string{"db", "user", "doc", "events"}},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "--%s", name)
			}
		})
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "invalid", "validate", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		opts := &RootOptions{Config: filepath.Join(dir, "absent.yaml")}
		cfg, err := opts.loadSettings()
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.UserID)
		assert.Equal(t, 0.1, cfg.Adaptation.LearningRate)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(dir, "reveal.yaml")
		require.NoError(t, os.WriteFile(path, []byte("user_id: alice\nadaptation:\n  learning_rate: 0.5\n"), 0o644))

		opts := &RootOptions{Config: path}
		cfg, err := opts.loadSettings()
		require.NoError(t, err)
		assert.Equal(t, "alice", cfg.UserID)
		assert.Equal(t, 0.5, cfg.Adaptation.LearningRate)
	})

	t.Run("invalid file is a command error", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("adaptation:\n  learning_rate: 3\n"), 0o644))

		opts := &RootOptions{Config: path}
		_, err := opts.loadSettings()
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "learning_rate")
	})
}
