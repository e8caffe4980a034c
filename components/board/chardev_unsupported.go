//go:build !linux

package board

import "github.com/pkg/errors"

// OpenChardevPin is only available on Linux.
func OpenChardevPin(devicePath string, offset uint32, output bool) (GPIOPin, error) {
	return nil, errors.Errorf("gpio character device %q is only supported on linux", devicePath)
}
