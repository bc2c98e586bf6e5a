//go:build !linux

package gpio

import "errors"

// NewCdevDriver is only available on Linux.
func NewCdevDriver(chip string) (Driver, error) {
	return nil, errors.New("gpiocdev backend requires linux")
}
