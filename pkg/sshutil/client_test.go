package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolveSSHSettings_PlainHost(t *testing.T) {
	t.Setenv("USER", "deploy")
	s := resolveSSHSettings("web.example.com", filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, "web.example.com", s.hostname)
	assert.Equal(t, "22", s.port)
	assert.Equal(t, "deploy", s.user)
	assert.Equal(t, "web.example.com:22", s.address())
}

func TestResolveSSHSettings_UserAndPort(t *testing.T) {
	s := resolveSSHSettings("grp.01live@staging-123.ssh.example.com:2222", filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, "grp.01live", s.user)
	assert.Equal(t, "staging-123.ssh.example.com", s.hostname)
	assert.Equal(t, "2222", s.port)
}

func TestResolveSSHSettings_FromConfig(t *testing.T) {
	cfg := writeSSHConfig(t, `
Host factory
  HostName 10.0.0.5
  Port 2200
  User grp.01live
  IdentityFile ~/.ssh/factory_key

Match host other
  User ignored
`)

	s := resolveSSHSettings("factory", cfg)
	assert.Equal(t, "10.0.0.5", s.hostname)
	assert.Equal(t, "2200", s.port)
	assert.Equal(t, "grp.01live", s.user)
	assert.Equal(t, filepath.Join(homeDir(), ".ssh", "factory_key"), s.identityFile)
}

func TestResolveSSHSettings_ExplicitUserWins(t *testing.T) {
	cfg := writeSSHConfig(t, "Host factory\n  User fromconfig\n")
	s := resolveSSHSettings("me@factory", cfg)
	assert.Equal(t, "me", s.user)
}

func TestReadSSHConfig_StopsAtMatch(t *testing.T) {
	cfg := writeSSHConfig(t, "Host a\n  User x\nMatch all\n  User y\n")
	data, err := readSSHConfig(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Match")
	assert.Contains(t, string(data), "Host a")
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, filepath.Join(homeDir(), "k"), expandPath("~/k"))
	assert.Equal(t, "/abs/k", expandPath("/abs/k"))
}
