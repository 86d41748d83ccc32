package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	envIMAPHost = "PERCH_IMAP_HOST"
	envIMAPPort = "PERCH_IMAP_PORT"
	envIMAPUser = "PERCH_IMAP_USER"
	envIMAPPass = "PERCH_IMAP_PASS"
)

// DefaultPollDelay is the pacing delay between polling cycles when the
// config file does not override it.
const DefaultPollDelay = 1000 * time.Millisecond

// Config holds non-secret configuration loaded from YAML. Connection
// secrets come from environment variables only.
type Config struct {
	Mailbox    string `yaml:"mailbox"`
	PollDelay  string `yaml:"poll_delay"`
	StatusAddr string `yaml:"status_addr"`
}

// IMAPEnv holds the IMAP connection details from environment variables.
type IMAPEnv struct {
	Host string
	Port int
	User string
	Pass string
}

// Addr joins host and port for dialing.
func (e IMAPEnv) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Load reads configuration from a YAML file. An empty path returns the
// zero Config so every field falls back to its default.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate performs basic validation on non-secret config.
func Validate(cfg Config) error {
	if _, err := cfg.PollDelayDuration(); err != nil {
		return err
	}
	return nil
}

// PollDelayDuration parses the configured pacing delay. A bare number is
// read as milliseconds; otherwise standard duration syntax applies.
func (c Config) PollDelayDuration() (time.Duration, error) {
	trimmed := strings.TrimSpace(c.PollDelay)
	if trimmed == "" {
		return DefaultPollDelay, nil
	}
	if ms, err := strconv.Atoi(trimmed); err == nil {
		if ms <= 0 {
			return 0, errors.New("poll_delay must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_delay: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("poll_delay must be positive")
	}
	return dur, nil
}

// MailboxName returns the watched mailbox, defaulting to INBOX.
func (c Config) MailboxName() string {
	if strings.TrimSpace(c.Mailbox) == "" {
		return "INBOX"
	}
	return c.Mailbox
}

// IMAPEnvFromEnv loads IMAP connection details and validates required
// entries. The port is optional and defaults to 993.
func IMAPEnvFromEnv() (IMAPEnv, error) {
	missing := []string{}

	host := strings.TrimSpace(os.Getenv(envIMAPHost))
	if host == "" {
		missing = append(missing, envIMAPHost)
	}

	user := strings.TrimSpace(os.Getenv(envIMAPUser))
	if user == "" {
		missing = append(missing, envIMAPUser)
	}

	pass := os.Getenv(envIMAPPass)
	if pass == "" {
		missing = append(missing, envIMAPPass)
	}

	if len(missing) > 0 {
		return IMAPEnv{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	port := 993
	if portRaw := strings.TrimSpace(os.Getenv(envIMAPPort)); portRaw != "" {
		parsed, err := strconv.Atoi(portRaw)
		if err != nil {
			return IMAPEnv{}, fmt.Errorf("invalid %s: %w", envIMAPPort, err)
		}
		port = parsed
	}

	return IMAPEnv{
		Host: host,
		Port: port,
		User: user,
		Pass: pass,
	}, nil
}

// Summary returns a concise config summary for validation runs.
func Summary(cfg Config) string {
	delay, err := cfg.PollDelayDuration()
	delayStr := delay.String()
	if err != nil {
		delayStr = fmt.Sprintf("(invalid: %v)", err)
	}
	statusAddr := cfg.StatusAddr
	if strings.TrimSpace(statusAddr) == "" {
		statusAddr = "(disabled)"
	}
	return fmt.Sprintf(
		"Config summary\n"+
			"- mailbox: %s\n"+
			"- poll delay: %s\n"+
			"- status server: %s",
		cfg.MailboxName(),
		delayStr,
		statusAddr,
	)
}
