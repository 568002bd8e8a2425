package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Client configures the interactive chat client.
type Client struct {
	Server       string        `yaml:"server"`
	Email        string        `yaml:"email,omitempty"`
	Password     string        `yaml:"password,omitempty"`
	Async        bool          `yaml:"async"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryFile  string        `yaml:"history_file,omitempty"`
}

func defaultClient() Client {
	c := Client{
		Server:       "http://localhost:8080",
		PollInterval: 500 * time.Millisecond,
		Timeout:      2 * time.Minute,
	}
	if home, err := os.UserHomeDir(); err == nil {
		c.HistoryFile = filepath.Join(home, ".keystone_history")
	}
	return c
}

// DefaultClientPath is ~/.config/keystone/client.yaml.
func DefaultClientPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "keystone.yaml"
	}
	return filepath.Join(dir, "keystone", "client.yaml")
}

// LoadClient reads path (a missing file is not an error) and then applies
// KEYSTONE_* environment overrides.
func LoadClient(path string) (Client, error) {
	c := defaultClient()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Client{}, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return Client{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	c.Server = getenv("KEYSTONE_SERVER", c.Server)
	c.Email = getenv("KEYSTONE_EMAIL", c.Email)
	c.Password = getenv("KEYSTONE_PASSWORD", c.Password)
	if v := os.Getenv("KEYSTONE_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Async = b
		}
	}
	c.PollInterval = getDuration("KEYSTONE_POLL_INTERVAL", c.PollInterval)
	c.Timeout = getDuration("KEYSTONE_TIMEOUT", c.Timeout)

	if c.Server == "" {
		return Client{}, errors.New("client config: server is required")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c, nil
}

// SaveClient writes c to path, creating parent directories. The password is
// never persisted.
func SaveClient(path string, c Client) error {
	c.Password = ""
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
