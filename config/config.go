// Package config describes how a module is wired to the host and how the driver should behave.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/wifimodule/components/board"
	"go.viam.com/wifimodule/logging"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultBaudRate       = 4000000
	DefaultPollIntervalMs = 1
	DefaultBufferSize     = 2012
)

// Config describes one module.
type Config struct {
	SPI            board.SPIConfig  `json:"spi"`
	ChipSelect     string           `json:"chip_select"`
	BaudRate       uint             `json:"baud_rate,omitempty"`
	SPIMode        uint             `json:"spi_mode,omitempty"`
	IRQPin         board.GPIOConfig `json:"irq_pin"`
	ResetPin       board.GPIOConfig `json:"reset_pin"`
	PollIntervalMs int              `json:"poll_interval_ms,omitempty"`
	BufferSize     int              `json:"buffer_size,omitempty"`

	ForceSocketsTLS bool   `json:"force_sockets_tls,omitempty"`
	TLSCommonName   string `json:"tls_common_name,omitempty"`

	Network *NetworkConfig                `json:"network,omitempty"`
	Log     []logging.LoggerPatternConfig `json:"log,omitempty"`
}

// NetworkConfig is a network the module joins when it is turned on.
type NetworkConfig struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// PollInterval returns the configured polling interval.
func (conf *Config) PollInterval() time.Duration {
	return time.Duration(conf.PollIntervalMs) * time.Millisecond
}

// ApplyDefaults fills in unset optional fields.
func (conf *Config) ApplyDefaults() {
	if conf.BaudRate == 0 {
		conf.BaudRate = DefaultBaudRate
	}
	if conf.PollIntervalMs == 0 {
		conf.PollIntervalMs = DefaultPollIntervalMs
	}
	if conf.BufferSize == 0 {
		conf.BufferSize = DefaultBufferSize
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if err := conf.SPI.Validate(fmt.Sprintf("%s.%s", path, "spi")); err != nil {
		return err
	}
	if conf.ChipSelect == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "chip_select")
	}
	if conf.SPIMode > 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("spi_mode must be 0-3, got %d", conf.SPIMode))
	}
	if err := conf.IRQPin.Validate(fmt.Sprintf("%s.%s", path, "irq_pin")); err != nil {
		return err
	}
	if err := conf.ResetPin.Validate(fmt.Sprintf("%s.%s", path, "reset_pin")); err != nil {
		return err
	}
	if conf.PollIntervalMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("poll_interval_ms cannot be negative"))
	}
	if conf.BufferSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("buffer_size cannot be negative"))
	}
	if conf.TLSCommonName != "" && !conf.ForceSocketsTLS {
		return utils.NewConfigValidationError(path, errors.New("tls_common_name requires force_sockets_tls"))
	}
	if conf.Network != nil && conf.Network.SSID == "" {
		return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.%s", path, "network"), "ssid")
	}
	for i, pattern := range conf.Log {
		if _, err := logging.LevelFromString(pattern.Level); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.%s.%d", path, "log", i), err)
		}
	}
	return nil
}

// FromAttributes decodes a config from a generic attribute map, using the json field names.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder for config")
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "decoding attributes")
	}
	return process(&conf)
}

func process(conf *Config) (*Config, error) {
	conf.ApplyDefaults()
	if err := conf.Validate("module"); err != nil {
		return nil, err
	}
	return conf, nil
}

func decodeJSON(buf []byte) (*Config, error) {
	var conf Config
	if err := json.Unmarshal(buf, &conf); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	return process(&conf)
}
