package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
mailbox: Support
poll_delay: 2s
status_addr: ":8035"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Support", cfg.Mailbox)
	assert.Equal(t, "2s", cfg.PollDelay)
	assert.Equal(t, ":8035", cfg.StatusAddr)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INBOX", cfg.MailboxName())
	delay, err := cfg.PollDelayDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultPollDelay, delay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPollDelayDuration(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected time.Duration
		wantErr  bool
	}{
		{name: "default", raw: "", expected: DefaultPollDelay},
		{name: "bare number is milliseconds", raw: "250", expected: 250 * time.Millisecond},
		{name: "duration syntax", raw: "2s", expected: 2 * time.Second},
		{name: "zero rejected", raw: "0", wantErr: true},
		{name: "negative rejected", raw: "-5s", wantErr: true},
		{name: "garbage rejected", raw: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, err := Config{PollDelay: tt.raw}.PollDelayDuration()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, delay)
		})
	}
}

func TestIMAPEnvFromEnv(t *testing.T) {
	t.Setenv(envIMAPHost, "imap.example.com")
	t.Setenv(envIMAPPort, "1143")
	t.Setenv(envIMAPUser, "user@example.com")
	t.Setenv(envIMAPPass, "secret")

	env, err := IMAPEnvFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com:1143", env.Addr())
	assert.Equal(t, "user@example.com", env.User)
	assert.Equal(t, "secret", env.Pass)
}

func TestIMAPEnvFromEnvDefaultsPort(t *testing.T) {
	t.Setenv(envIMAPHost, "imap.example.com")
	t.Setenv(envIMAPPort, "")
	t.Setenv(envIMAPUser, "user@example.com")
	t.Setenv(envIMAPPass, "secret")

	env, err := IMAPEnvFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 993, env.Port)
}

func TestIMAPEnvFromEnvReportsAllMissing(t *testing.T) {
	t.Setenv(envIMAPHost, "")
	t.Setenv(envIMAPPort, "")
	t.Setenv(envIMAPUser, "")
	t.Setenv(envIMAPPass, "")

	_, err := IMAPEnvFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), envIMAPHost)
	assert.Contains(t, err.Error(), envIMAPUser)
	assert.Contains(t, err.Error(), envIMAPPass)
}

func TestSummary(t *testing.T) {
	summary := Summary(Config{Mailbox: "Support", PollDelay: "2s", StatusAddr: ":8035"})
	assert.Contains(t, summary, "Support")
	assert.Contains(t, summary, "2s")
	assert.Contains(t, summary, ":8035")

	summary = Summary(Config{})
	assert.Contains(t, summary, "INBOX")
	assert.Contains(t, summary, "(disabled)")
}
