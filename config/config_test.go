package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "zerowire", s.Host)
	assert.Equal(t, "User 1", s.User)
	assert.Equal(t, "1234", s.Pin)
	assert.Equal(t, DefaultUserAgent, s.UserAgent)
	assert.Equal(t, "http", s.Scheme)
	assert.Equal(t, 5000, s.TimeoutMs)
	assert.Equal(t, "warn", s.Logging.Level)
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "# panel\nhost: 192.168.1.50\nuser: Admin\npin: 4321\nlogging:\n  level: debug\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", s.Host)
	assert.Equal(t, "Admin", s.User)
	assert.Equal(t, "4321", s.Pin)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "http", s.Scheme)
}

func TestLoad_SearchPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeFile(t, filepath.Join(home, ".config", "ultrasync"), "host: from-xdg\n")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-xdg", s.Host)

	writeFile(t, filepath.Join(home, ".ultrasync"), "host: from-home\n")
	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-home", s.Host)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "host: file-host\npin: 1111\n")

	t.Setenv("ULTRASYNC_HOST", "env-host")
	t.Setenv("ULTRASYNC_USER_AGENT", "test-agent")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-host", s.Host)
	assert.Equal(t, "1111", s.Pin)
	assert.Equal(t, "test-agent", s.UserAgent)
}

func TestLoad_ValuesKeptAsWritten(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, pin := range []string{"0000", "0852", "0x1F", "1234"} {
		t.Run(pin, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "panel.cfg")
			writeFile(t, path, "pin: "+pin+"\nuser: 007\n")

			s, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, pin, s.Pin)
			assert.Equal(t, "007", s.User)
		})
	}
}

func TestLoad_TypedValuesFromStrings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "insecure: true\ntimeout_ms: 2500\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.Insecure)
	assert.Equal(t, 2500, s.TimeoutMs)
}

func TestLoad_CommentOnlyFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "# nothing here yet\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zerowire", s.Host)
}

func TestLoad_NotAMapping(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "- host\n- pin\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "panel.cfg")
	writeFile(t, path, "scheme: ftp\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestValidate_CollectsAll(t *testing.T) {
	s := &Settings{Scheme: "http", Logging: LoggingConfig{Format: "xml"}}
	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{"host", "user", "pin", "logging.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestClientConfig(t *testing.T) {
	s := Default()
	s.Scheme = "https"
	s.Insecure = true
	s.TimeoutMs = 2500

	cfg := s.ClientConfig()
	assert.Equal(t, "zerowire", cfg.Host)
	assert.Equal(t, "https", cfg.Scheme)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.NoError(t, cfg.Validate())
}
