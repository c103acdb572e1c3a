// Package config loads the workstation configuration from YAML.
//
// Defaults are applied before decoding, so a minimal file only names the
// broker and the sensors. A few settings can be overridden from the
// environment, see ApplyEnv.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/mqtt4w/pkg/uuidx"
	"github.com/casualjim/mqtt4w/topic"
	"gopkg.in/yaml.v3"
)

// Name of the application, used for the default config location.
const Name = "mqtt4w"

// Transports understood by the CLI.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// HostnameAuto asks for the broker to be located with mDNS.
const HostnameAuto = "auto"

// Config is the top-level configuration.
type Config struct {
	// WorkstationName is the topic segment under the base topic. Defaults
	// to the host name.
	WorkstationName string `yaml:"workstation_name,omitempty" jsonschema:"description=Topic segment identifying this workstation; defaults to the host name"`

	// UniqueID prefixes every discovered entity id. Defaults to the
	// hardware node id.
	UniqueID string `yaml:"unique_id,omitempty" jsonschema:"description=Prefix of every entity unique id; defaults to the hardware node id"`

	MQTT     MQTT     `yaml:"mqtt"`
	Logging  Logging  `yaml:"logging,omitempty"`
	Metrics  Metrics  `yaml:"metrics,omitempty"`
	Services Services `yaml:"services,omitempty"`
}

type MQTT struct {
	Transport            string        `yaml:"transport,omitempty" jsonschema:"enum=mqtt,enum=nats,default=mqtt"`
	BaseTopic            string        `yaml:"base_topic,omitempty" jsonschema:"default=mqtt4w"`
	AvailabilitySubtopic string        `yaml:"availability_subtopic,omitempty" jsonschema:"default=available"`
	QoS                  byte          `yaml:"qos,omitempty" jsonschema:"minimum=0,maximum=2,default=1"`
	RetainState          bool          `yaml:"retain_state,omitempty"`
	PublishTimeout       time.Duration `yaml:"publish_timeout,omitempty" jsonschema:"type=string,example=5s"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval,omitempty" jsonschema:"type=string,example=30s"`
	Client               Client        `yaml:"client" jsonschema:"required"`
	Discovery            Discovery     `yaml:"discovery,omitempty"`
}

// Client holds the broker connection settings.
type Client struct {
	// Hostname of the broker. Empty or "auto" browses mDNS for _mqtt._tcp.
	Hostname      string        `yaml:"hostname,omitempty"`
	Port          int           `yaml:"port,omitempty" jsonschema:"description=Defaults to 1883 for mqtt (8883 with tls) and 4222 for nats"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	ClientID      string        `yaml:"client_id,omitempty"`
	TLS           bool          `yaml:"tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	KeepAlive     time.Duration `yaml:"keep_alive,omitempty" jsonschema:"type=string,example=30s"`
}

type Discovery struct {
	Enabled bool   `yaml:"enabled" jsonschema:"default=true"`
	Prefix  string `yaml:"prefix,omitempty" jsonschema:"default=homeassistant"`
}

type Logging struct {
	Level    string `yaml:"level,omitempty" jsonschema:"enum=CRITICAL,enum=ERROR,enum=WARNING,enum=INFO,enum=DEBUG,default=INFO"`
	Format   string `yaml:"format,omitempty" jsonschema:"enum=console,enum=json,default=console"`
	Filename string `yaml:"filename,omitempty"`
}

type Metrics struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen,omitempty" jsonschema:"example=127.0.0.1:9117"`
}

// Default returns the configuration used for every unset field.
func Default() Config {
	return Config{
		MQTT: MQTT{
			Transport:            TransportMQTT,
			BaseTopic:            "mqtt4w",
			AvailabilitySubtopic: "available",
			QoS:                  1,
			PublishTimeout:       5 * time.Second,
			ReconnectInterval:    30 * time.Second,
			Client: Client{
				KeepAlive: 30 * time.Second,
			},
			Discovery: Discovery{
				Enabled: true,
				Prefix:  "homeassistant",
			},
		},
		Logging: Logging{
			Level:  "INFO",
			Format: "console",
		},
		Services: defaultServices(),
	}
}

// DefaultPath is $XDG_CONFIG_HOME/mqtt4w/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, Name, "config.yaml")
}

// Load reads path over the defaults, applies the environment overrides and
// fills the derived identity fields. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies the environment overrides
// and fills the derived identity fields.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.fillIdentity()
	return &cfg, nil
}

// ApplyEnv overrides the broker credentials and the workstation name with
// MQTT4W_MQTT_HOSTNAME, MQTT4W_MQTT_USERNAME, MQTT4W_MQTT_PASSWORD and
// MQTT4W_WORKSTATION_NAME when they are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for name, field := range map[string]*string{
		"MQTT4W_MQTT_HOSTNAME":    &c.MQTT.Client.Hostname,
		"MQTT4W_MQTT_USERNAME":    &c.MQTT.Client.Username,
		"MQTT4W_MQTT_PASSWORD":    &c.MQTT.Client.Password,
		"MQTT4W_WORKSTATION_NAME": &c.WorkstationName,
	} {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}
}

func (c *Config) fillIdentity() {
	if c.WorkstationName == "" {
		if host, err := os.Hostname(); err == nil {
			// only the short name, dots are fine in a segment but noisy
			c.WorkstationName, _, _ = strings.Cut(host, ".")
		}
	}
	if c.UniqueID == "" {
		c.UniqueID = uuidx.NodeID()
	}
}

// Root is the workstation root topic, the base topic followed by the
// workstation name.
func (c *Config) Root() (topic.Topic, error) {
	base := topic.Parse(c.MQTT.BaseTopic)
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt.base_topic: %w", err)
	}
	root, err := base.Join(c.WorkstationName)
	if err != nil {
		return nil, fmt.Errorf("workstation_name: %w", err)
	}
	return root, nil
}

// AutoLocate reports whether the broker is to be found with mDNS.
func (c *Client) AutoLocate() bool {
	return c.Hostname == "" || strings.EqualFold(c.Hostname, HostnameAuto)
}

// BrokerURL renders the broker address for transport, using hostPort when
// it is not empty, as returned by an mDNS lookup.
func (c *MQTT) BrokerURL(hostPort string) string {
	if hostPort == "" {
		port := c.Client.Port
		if port == 0 {
			port = c.defaultPort()
		}
		hostPort = net.JoinHostPort(c.Client.Hostname, strconv.Itoa(port))
	}
	scheme := "tcp"
	switch {
	case c.Transport == TransportNATS && c.Client.TLS:
		scheme = "tls"
	case c.Transport == TransportNATS:
		scheme = "nats"
	case c.Client.TLS:
		scheme = "ssl"
	}
	return scheme + "://" + hostPort
}

func (c *MQTT) defaultPort() int {
	switch {
	case c.Transport == TransportNATS:
		return 4222
	case c.Client.TLS:
		return 8883
	default:
		return 1883
	}
}
