// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the stovelink configuration file with viper and
// converts it into the library types.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/stovelink/internal/logger"
	"github.com/Thermoquad/stovelink/pkg/radio"
	"github.com/Thermoquad/stovelink/pkg/relay"
	"github.com/Thermoquad/stovelink/pkg/stove"
)

// EnvPrefix prefixes environment overrides, e.g. STOVELINK_LINK_PORT.
const EnvPrefix = "STOVELINK"

// DefaultPath is used when --config is not given.
const DefaultPath = "stovelink.yaml"

// Config is the whole configuration tree.
type Config struct {
	Link       LinkSection       `mapstructure:"link" yaml:"link"`
	P2P        P2PSection        `mapstructure:"p2p" yaml:"p2p"`
	LoRaWAN    LoRaWANSection    `mapstructure:"lorawan" yaml:"lorawan"`
	Relay      RelaySection      `mapstructure:"relay" yaml:"relay"`
	Supervisor SupervisorSection `mapstructure:"supervisor" yaml:"supervisor"`
	Watchdog   WatchdogSection   `mapstructure:"watchdog" yaml:"watchdog"`
	Journal    JournalSection    `mapstructure:"journal" yaml:"journal"`
	MQTT       MQTTSection       `mapstructure:"mqtt" yaml:"mqtt"`
	Log        LogSection        `mapstructure:"log" yaml:"log"`
}

// LinkSection selects the modem connection.
type LinkSection struct {
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	Bauds       []int         `mapstructure:"bauds" yaml:"bauds"`
	Port        string        `mapstructure:"port" yaml:"port"`
	URL         string        `mapstructure:"url" yaml:"url"`
	Username    string        `mapstructure:"username" yaml:"username"`
	NoSSLVerify bool          `mapstructure:"no_ssl_verify" yaml:"no_ssl_verify"`
	Deadline    time.Duration `mapstructure:"deadline" yaml:"deadline"`
}

// P2PSection is the raw-packet RF tuple.
type P2PSection struct {
	Frequency  int `mapstructure:"frequency" yaml:"frequency"`
	SF         int `mapstructure:"sf" yaml:"sf"`
	Bandwidth  int `mapstructure:"bandwidth" yaml:"bandwidth"`
	CodingRate int `mapstructure:"coding_rate" yaml:"coding_rate"`
	Preamble   int `mapstructure:"preamble" yaml:"preamble"`
	Power      int `mapstructure:"power" yaml:"power"`
}

// LoRaWANSection holds the network session parameters.
type LoRaWANSection struct {
	AppEUI     string `mapstructure:"app_eui" yaml:"app_eui"`
	AppKey     string `mapstructure:"app_key" yaml:"app_key"`
	Region     string `mapstructure:"region" yaml:"region"`
	DataRate   int    `mapstructure:"data_rate" yaml:"data_rate"`
	ADR        bool   `mapstructure:"adr" yaml:"adr"`
	Power      int    `mapstructure:"power" yaml:"power"`
	OTAA       bool   `mapstructure:"otaa" yaml:"otaa"`
	Confirmed  bool   `mapstructure:"confirmed" yaml:"confirmed"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// RelaySection configures the relay unit output.
type RelaySection struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	// Driver is "gpio" or "log".
	Driver    string `mapstructure:"driver" yaml:"driver"`
	GPIOChip  string `mapstructure:"gpio_chip" yaml:"gpio_chip"`
	GPIOLine  int    `mapstructure:"gpio_line" yaml:"gpio_line"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low"`
	// PlainAck answers STOVE_ON/STOVE_OFF with ACK.
	PlainAck bool `mapstructure:"plain_ack" yaml:"plain_ack"`
}

// SupervisorSection configures the controller loop.
type SupervisorSection struct {
	Base            float64       `mapstructure:"base" yaml:"base"`
	Offsets         []float64     `mapstructure:"offsets" yaml:"offsets"`
	SafetyMaxTemp   float64       `mapstructure:"safety_max_temp" yaml:"safety_max_temp"`
	LowThreshold    float64       `mapstructure:"low_threshold" yaml:"low_threshold"`
	HighThreshold   float64       `mapstructure:"high_threshold" yaml:"high_threshold"`
	MinInterval     time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	ControlInterval time.Duration `mapstructure:"control_interval" yaml:"control_interval"`
	KeepAlive       time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	// Sensor is a file holding degrees F, or "-" for stdin.
	Sensor string `mapstructure:"sensor" yaml:"sensor"`
}

// WatchdogSection configures the relay unit safety timeout.
type WatchdogSection struct {
	SafetyWindow time.Duration `mapstructure:"safety_window" yaml:"safety_window"`
}

// JournalSection locates the event journal. An empty path disables it.
type JournalSection struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MQTTSection configures status publishing. An empty broker disables it.
type MQTTSection struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
}

// LogSection sets the log level.
type LogSection struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	link := radio.DefaultLinkConfig()
	sched := stove.DefaultSchedule()
	th := stove.DefaultThresholds()
	return Config{
		Link: LinkSection{
			Mode:     "p2p",
			Bauds:    append([]int(nil), radio.DefaultBauds...),
			Deadline: radio.DefaultBringup().Deadline,
		},
		P2P: P2PSection{
			Frequency:  link.P2P.Frequency,
			SF:         link.P2P.SpreadingFactor,
			Bandwidth:  link.P2P.Bandwidth,
			CodingRate: link.P2P.CodingRate,
			Preamble:   link.P2P.Preamble,
			Power:      link.P2P.Power,
		},
		LoRaWAN: LoRaWANSection{
			Region:     link.LoRaWAN.Region,
			DataRate:   link.LoRaWAN.DataRate,
			ADR:        link.LoRaWAN.ADR,
			Power:      link.LoRaWAN.Power,
			OTAA:       link.LoRaWAN.OTAA,
			Confirmed:  link.LoRaWAN.Confirmed,
			MaxRetries: link.LoRaWAN.MaxRetries,
		},
		Relay: RelaySection{
			Name:        "Stove",
			MinInterval: relay.DefaultMinInterval,
			Driver:      "log",
			GPIOChip:    "gpiochip0",
			GPIOLine:    17,
		},
		Supervisor: SupervisorSection{
			Base:            sched.Base,
			Offsets:         append([]float64(nil), sched.Offsets[:]...),
			SafetyMaxTemp:   stove.DefaultSafetyMaxTemp,
			LowThreshold:    th.Low,
			HighThreshold:   th.High,
			MinInterval:     stove.DefaultMinInterval,
			ControlInterval: 10 * time.Second,
			KeepAlive:       stove.DefaultKeepAlive,
			Sensor:          "-",
		},
		Watchdog: WatchdogSection{SafetyWindow: stove.DefaultSafetyWindow},
		Journal:  JournalSection{Path: "stovelink.db"},
		MQTT:     MQTTSection{Topic: "stovelink", ClientID: "stovelink"},
		Log:      LogSection{Level: logger.InfoLevel},
	}
}

// setDefaults registers every key so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("link.mode", d.Link.Mode)
	v.SetDefault("link.bauds", d.Link.Bauds)
	v.SetDefault("link.port", d.Link.Port)
	v.SetDefault("link.url", d.Link.URL)
	v.SetDefault("link.username", d.Link.Username)
	v.SetDefault("link.no_ssl_verify", d.Link.NoSSLVerify)
	v.SetDefault("link.deadline", d.Link.Deadline)

	v.SetDefault("p2p.frequency", d.P2P.Frequency)
	v.SetDefault("p2p.sf", d.P2P.SF)
	v.SetDefault("p2p.bandwidth", d.P2P.Bandwidth)
	v.SetDefault("p2p.coding_rate", d.P2P.CodingRate)
	v.SetDefault("p2p.preamble", d.P2P.Preamble)
	v.SetDefault("p2p.power", d.P2P.Power)

	v.SetDefault("lorawan.app_eui", d.LoRaWAN.AppEUI)
	v.SetDefault("lorawan.app_key", d.LoRaWAN.AppKey)
	v.SetDefault("lorawan.region", d.LoRaWAN.Region)
	v.SetDefault("lorawan.data_rate", d.LoRaWAN.DataRate)
	v.SetDefault("lorawan.adr", d.LoRaWAN.ADR)
	v.SetDefault("lorawan.power", d.LoRaWAN.Power)
	v.SetDefault("lorawan.otaa", d.LoRaWAN.OTAA)
	v.SetDefault("lorawan.confirmed", d.LoRaWAN.Confirmed)
	v.SetDefault("lorawan.max_retries", d.LoRaWAN.MaxRetries)

	v.SetDefault("relay.name", d.Relay.Name)
	v.SetDefault("relay.min_interval", d.Relay.MinInterval)
	v.SetDefault("relay.driver", d.Relay.Driver)
	v.SetDefault("relay.gpio_chip", d.Relay.GPIOChip)
	v.SetDefault("relay.gpio_line", d.Relay.GPIOLine)
	v.SetDefault("relay.active_low", d.Relay.ActiveLow)
	v.SetDefault("relay.plain_ack", d.Relay.PlainAck)

	v.SetDefault("supervisor.base", d.Supervisor.Base)
	v.SetDefault("supervisor.offsets", d.Supervisor.Offsets)
	v.SetDefault("supervisor.safety_max_temp", d.Supervisor.SafetyMaxTemp)
	v.SetDefault("supervisor.low_threshold", d.Supervisor.LowThreshold)
	v.SetDefault("supervisor.high_threshold", d.Supervisor.HighThreshold)
	v.SetDefault("supervisor.min_interval", d.Supervisor.MinInterval)
	v.SetDefault("supervisor.control_interval", d.Supervisor.ControlInterval)
	v.SetDefault("supervisor.keep_alive", d.Supervisor.KeepAlive)
	v.SetDefault("supervisor.sensor", d.Supervisor.Sensor)

	v.SetDefault("watchdog.safety_window", d.Watchdog.SafetyWindow)
	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)

	v.SetDefault("log.level", d.Log.Level)
}

// Load reads path and applies STOVELINK_* overrides. A missing file at the
// default path is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at the modem.
func (c *Config) Validate() error {
	var errs []error
	if _, err := radio.ParseMode(c.Link.Mode); err != nil {
		errs = append(errs, fmt.Errorf("link.mode: %w", err))
	}
	if len(c.Link.Bauds) == 0 {
		errs = append(errs, errors.New("link.bauds: at least one baud rate required"))
	}
	for _, b := range c.Link.Bauds {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("link.bauds: invalid baud %d", b))
		}
	}
	if err := c.p2p().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("p2p: %w", err))
	}
	if c.LoRaWAN.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("lorawan.max_retries: must not be negative, got %d", c.LoRaWAN.MaxRetries))
	}
	switch c.Relay.Driver {
	case "gpio", "log":
	default:
		errs = append(errs, fmt.Errorf("relay.driver: want gpio or log, got %q", c.Relay.Driver))
	}
	if c.Relay.MinInterval < 0 {
		errs = append(errs, errors.New("relay.min_interval: must not be negative"))
	}
	if n := len(c.Supervisor.Offsets); n != 0 && n != 24 {
		errs = append(errs, fmt.Errorf("supervisor.offsets: want 24 hourly offsets, got %d", n))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	if c.Supervisor.MinInterval < c.Relay.MinInterval {
		errs = append(errs, fmt.Errorf("supervisor.min_interval: %v is shorter than relay.min_interval %v, the relay unit would refuse changes",
			c.Supervisor.MinInterval, c.Relay.MinInterval))
	}
	if c.Supervisor.ControlInterval <= 0 {
		errs = append(errs, errors.New("supervisor.control_interval: must be positive"))
	}
	if c.Watchdog.SafetyWindow <= 0 {
		errs = append(errs, errors.New("watchdog.safety_window: must be positive"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: want 0-2, got %d", c.MQTT.QoS))
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: want debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

func (c *Config) p2p() radio.P2PConfig {
	return radio.P2PConfig{
		Frequency:       c.P2P.Frequency,
		SpreadingFactor: c.P2P.SF,
		Bandwidth:       c.P2P.Bandwidth,
		CodingRate:      c.P2P.CodingRate,
		Preamble:        c.P2P.Preamble,
		Power:           c.P2P.Power,
	}
}

// KeyPrompt asks an operator for the AppKey.
type KeyPrompt func() (string, error)

// LinkConfig converts the link sections. When OTAA is selected without an
// AppKey, prompt is asked for one; a nil prompt leaves the key empty and
// LoRaWAN joins will fail.
func (c *Config) LinkConfig(prompt KeyPrompt) (radio.LinkConfig, error) {
	mode, err := radio.ParseMode(c.Link.Mode)
	if err != nil {
		return radio.LinkConfig{}, err
	}
	lw := radio.LoRaWANConfig{
		Region:     strings.ToUpper(c.LoRaWAN.Region),
		DataRate:   c.LoRaWAN.DataRate,
		ADR:        c.LoRaWAN.ADR,
		Power:      c.LoRaWAN.Power,
		OTAA:       c.LoRaWAN.OTAA,
		Confirmed:  c.LoRaWAN.Confirmed,
		MaxRetries: c.LoRaWAN.MaxRetries,
	}

	if c.LoRaWAN.AppEUI != "" {
		if lw.AppEUI, err = radio.ParseAppEUI(c.LoRaWAN.AppEUI); err != nil {
			return radio.LinkConfig{}, fmt.Errorf("lorawan.app_eui: %w", err)
		}
	}

	key := c.LoRaWAN.AppKey
	if key == "" && lw.OTAA && prompt != nil {
		if key, err = prompt(); err != nil {
			return radio.LinkConfig{}, fmt.Errorf("lorawan.app_key: %w", err)
		}
	}
	if key != "" {
		if lw.AppKey, err = radio.ParseAppKey(key); err != nil {
			return radio.LinkConfig{}, fmt.Errorf("lorawan.app_key: %w", err)
		}
	}

	return radio.LinkConfig{Mode: mode, P2P: c.p2p(), LoRaWAN: lw}, nil
}

// Bringup returns the baud search parameters.
func (c *Config) Bringup() radio.Bringup {
	b := radio.DefaultBringup()
	b.Bauds = append([]int(nil), c.Link.Bauds...)
	if c.Link.Deadline > 0 {
		b.Deadline = c.Link.Deadline
	}
	return b
}

// Schedule returns the heating schedule.
func (c *Config) Schedule() stove.Schedule {
	s := stove.Schedule{Base: c.Supervisor.Base}
	copy(s.Offsets[:], c.Supervisor.Offsets)
	return s
}

// Thresholds returns the hysteresis margins.
func (c *Config) Thresholds() stove.Thresholds {
	return stove.Thresholds{Low: c.Supervisor.LowThreshold, High: c.Supervisor.HighThreshold}
}
