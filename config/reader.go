package config

import (
	"context"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"go.viam.com/wifimodule/logging"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return fromBytes(ctx, filePath, buf, logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	buf, err = envsubst.Bytes(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding %q", originalPath)
	}
	return fromBytes(ctx, originalPath, buf, logger)
}

func fromBytes(ctx context.Context, originalPath string, buf []byte, logger logging.Logger) (*Config, error) {
	conf, err := decodeJSON(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", originalPath)
	}
	if len(conf.Log) != 0 {
		if err := logging.UpdateLoggerLevels(conf.Log, logger); err != nil {
			return nil, err
		}
	}
	logger.CDebugw(ctx, "read config", "path", originalPath, "spi", conf.SPI.Name, "chip_select", conf.ChipSelect)
	return conf, nil
}
