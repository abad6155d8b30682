package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
	sshtest "github.com/rileyhilliard/fleetdash/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doctorFixture(t *testing.T) (string, *sshtest.FakeDialer) {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")

	path := filepath.Join(t.TempDir(), "fleetdash.yaml")
	require.NoError(t, config.WriteExample(path, false))

	d := sshtest.NewFakeDialer()
	d.Host("10.0.0.11").Output("command -v", "tmux:yes\ntop:yes\nfree:yes\nnvidia-smi:yes\n")
	d.Host("cpu-01.internal").Output("command -v", "tmux:no\ntop:yes\nfree:yes\nnvidia-smi:no\n")
	return path, d
}

func TestDoctorCommand_Text(t *testing.T) {
	path, d := doctorFixture(t)
	var out bytes.Buffer

	err := doctorCommand(context.Background(), path, func(*config.Config) sshutil.Dialer { return d }, &out, false)

	s := out.String()
	assert.Contains(t, s, "CONFIG")
	assert.Contains(t, s, "SSH")
	assert.Contains(t, s, "HOSTS")
	assert.Contains(t, s, "gpu-01: connected")
	assert.Contains(t, s, "cpu-01: connected")
	assert.Contains(t, s, "missing tmux")
	assert.Contains(t, s, "issues found")

	// The example's default key path won't exist in a test HOME.
	if err != nil {
		assert.ErrorIs(t, err, errChecksFailed)
	}
}

func TestDoctorCommand_JSON(t *testing.T) {
	path, d := doctorFixture(t)
	var out bytes.Buffer

	_ = doctorCommand(context.Background(), path, func(*config.Config) sshutil.Dialer { return d }, &out, true)

	var env struct {
		Success bool         `json:"success"`
		Data    DoctorOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	require.Len(t, env.Data.Categories, 3)
	assert.Equal(t, "HOSTS", env.Data.Categories[2].Name)
	assert.Len(t, env.Data.Categories[2].Results, 2)
	assert.False(t, env.Data.Summary.AllClear)
	assert.GreaterOrEqual(t, env.Data.Summary.Warn, 1)
}

func TestDoctorCommand_NoConfig(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	var out bytes.Buffer
	d := sshtest.NewFakeDialer()

	err := doctorCommand(context.Background(), "", func(*config.Config) sshutil.Dialer { return d }, &out, false)
	assert.ErrorIs(t, err, errChecksFailed)
	assert.Contains(t, out.String(), "No config file found")
	assert.NotContains(t, out.String(), "HOSTS")
}
