package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"supernode/internal/crypto"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

const EnvPrefix = "SUPERNODE"

type Config struct {
	Listen struct {
		Addr      string `mapstructure:"addr"`
		Transport string `mapstructure:"transport"`
	} `mapstructure:"listen"`

	Node struct {
		Home      string            `mapstructure:"home"`
		Producers []string          `mapstructure:"producers"`
		Bootstrap map[string]string `mapstructure:"bootstrap"`
	} `mapstructure:"node"`

	Session struct {
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		HandshakePerIP int           `mapstructure:"handshake_per_ip"`
	} `mapstructure:"session"`

	Announce struct {
		Interval time.Duration `mapstructure:"interval"`
		Endpoint string        `mapstructure:"endpoint"`
	} `mapstructure:"announce"`

	Metrics struct {
		Path     string        `mapstructure:"path"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`

	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", ":20338")
	v.SetDefault("listen.transport", "tcp")
	v.SetDefault("node.home", "~/.supernode")
	v.SetDefault("node.producers", []string{})
	v.SetDefault("node.bootstrap", map[string]string{})
	v.SetDefault("session.write_timeout", 10*time.Second)
	v.SetDefault("session.handshake_per_ip", 8)
	v.SetDefault("announce.interval", time.Duration(0))
	v.SetDefault("announce.endpoint", "")
	v.SetDefault("metrics.path", "")
	v.SetDefault("metrics.interval", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// LoadConfig reads path (YAML) when non-empty, then applies SUPERNODE_*
// environment overrides, e.g. SUPERNODE_LISTEN_ADDR.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	home, err := expandHome(c.Node.Home)
	if err != nil {
		return nil, err
	}
	c.Node.Home = home
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Listen.Transport {
	case "tcp", "quic":
	default:
		return fmt.Errorf("listen.transport must be tcp or quic, got %q", c.Listen.Transport)
	}
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	if c.Session.HandshakePerIP < 0 {
		return fmt.Errorf("session.handshake_per_ip must not be negative")
	}
	if c.Announce.Interval < 0 || c.Metrics.Interval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.Announce.Interval > 0 && c.Announce.Endpoint == "" {
		return fmt.Errorf("announce.endpoint is required when announce.interval is set")
	}
	if _, err := c.ProducerKeys(); err != nil {
		return err
	}
	if _, err := c.BootstrapBook(); err != nil {
		return err
	}
	if _, _, err := c.AnnounceEndpoint(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ProducerKeys() ([]crypto.PublicKey, error) {
	out := make([]crypto.PublicKey, 0, len(c.Node.Producers))
	for _, raw := range c.Node.Producers {
		pub, err := crypto.ParsePublicKey(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("node.producers: %w", err)
		}
		out = append(out, pub)
	}
	return out, nil
}

// BootstrapBook parses node.bootstrap (address hex -> ip:port).
func (c *Config) BootstrapBook() (peer.StaticResolver, error) {
	book := make(peer.StaticResolver, len(c.Node.Bootstrap))
	for rawAddr, rawEp := range c.Node.Bootstrap {
		addr, err := crypto.ParseAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("node.bootstrap key %q: %w", rawAddr, err)
		}
		ep, err := proto.ParseEndpoint(rawEp)
		if err != nil {
			return nil, fmt.Errorf("node.bootstrap %s: %w", rawAddr, err)
		}
		book[addr] = ep
	}
	return book, nil
}

func (c *Config) AnnounceEndpoint() (proto.Endpoint, bool, error) {
	if c.Announce.Endpoint == "" {
		return proto.Endpoint{}, false, nil
	}
	ep, err := proto.ParseEndpoint(c.Announce.Endpoint)
	if err != nil {
		return proto.Endpoint{}, false, fmt.Errorf("announce.endpoint: %w", err)
	}
	return ep, true, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strings.TrimPrefix(p, "~")), nil
}
