package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/wifimodule/components/board"
	"go.viam.com/wifimodule/logging"
)

func validConfig() Config {
	return Config{
		SPI:        board.SPIConfig{Name: "main", BusSelect: "0"},
		ChipSelect: "0",
		IRQPin:     board.GPIOConfig{Pin: "GPIO25"},
		ResetPin:   board.GPIOConfig{Pin: "17", Chip: "/dev/gpiochip0"},
	}
}

func TestConfigValidate(t *testing.T) {
	var emptyConfig Config
	err := emptyConfig.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `path.spi`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"name" is required`)

	conf := validConfig()
	test.That(t, conf.Validate("path"), test.ShouldBeNil)

	conf.ChipSelect = ""
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"chip_select" is required`)

	conf = validConfig()
	conf.IRQPin = board.GPIOConfig{}
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `path.irq_pin`)

	conf = validConfig()
	conf.ResetPin.Pin = "GPIO17"
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `not a line offset`)

	conf = validConfig()
	conf.SPIMode = 4
	test.That(t, conf.Validate("path"), test.ShouldNotBeNil)

	conf = validConfig()
	conf.TLSCommonName = "example.com"
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `force_sockets_tls`)
	conf.ForceSocketsTLS = true
	test.That(t, conf.Validate("path"), test.ShouldBeNil)

	conf = validConfig()
	conf.Network = &NetworkConfig{Password: "secret"}
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `path.network`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"ssid" is required`)

	conf = validConfig()
	conf.Log = []logging.LoggerPatternConfig{{Pattern: "spwf04sx", Level: "loud"}}
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `path.log.0`)
}

func TestApplyDefaults(t *testing.T) {
	conf := validConfig()
	conf.ApplyDefaults()
	test.That(t, conf.BaudRate, test.ShouldEqual, uint(DefaultBaudRate))
	test.That(t, conf.PollIntervalMs, test.ShouldEqual, DefaultPollIntervalMs)
	test.That(t, conf.BufferSize, test.ShouldEqual, DefaultBufferSize)
	test.That(t, conf.PollInterval().Milliseconds(), test.ShouldEqual, int64(1))

	conf.BaudRate = 1000000
	conf.ApplyDefaults()
	test.That(t, conf.BaudRate, test.ShouldEqual, uint(1000000))
}

func TestRead(t *testing.T) {
	logger := logging.NewTestLogger(t)
	t.Setenv("WIFI_PASSWORD", "hunter2")

	raw := `{
		"spi": {"name": "main", "bus_select": "0"},
		"chip_select": "0",
		"irq_pin": {"pin": "GPIO25"},
		"reset_pin": {"pin": "GPIO17"},
		"network": {"ssid": "home", "password": "${WIFI_PASSWORD}"}
	}`
	path := filepath.Join(t.TempDir(), "module.json")
	test.That(t, os.WriteFile(path, []byte(raw), 0o600), test.ShouldBeNil)

	conf, err := Read(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Network, test.ShouldNotBeNil)
	test.That(t, conf.Network.SSID, test.ShouldEqual, "home")
	test.That(t, conf.Network.Password, test.ShouldEqual, "hunter2")
	test.That(t, conf.BaudRate, test.ShouldEqual, uint(DefaultBaudRate))

	_, err = Read(context.Background(), filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader(context.Background(), "inline", strings.NewReader(`{"chip_select": 0`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "inline")
}

func TestFromAttributes(t *testing.T) {
	conf, err := FromAttributes(map[string]interface{}{
		"spi":               map[string]interface{}{"name": "main", "bus_select": "0"},
		"chip_select":       "1",
		"baud_rate":         2000000,
		"irq_pin":           map[string]interface{}{"pin": "GPIO25"},
		"reset_pin":         map[string]interface{}{"pin": "GPIO17"},
		"force_sockets_tls": true,
		"tls_common_name":   "example.com",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.ChipSelect, test.ShouldEqual, "1")
	test.That(t, conf.BaudRate, test.ShouldEqual, uint(2000000))
	test.That(t, conf.IRQPin.Pin, test.ShouldEqual, "GPIO25")
	test.That(t, conf.ForceSocketsTLS, test.ShouldBeTrue)
	test.That(t, conf.TLSCommonName, test.ShouldEqual, "example.com")
	test.That(t, conf.PollIntervalMs, test.ShouldEqual, DefaultPollIntervalMs)

	_, err = FromAttributes(map[string]interface{}{"chip_select": "1"})
	test.That(t, err, test.ShouldNotBeNil)
}
