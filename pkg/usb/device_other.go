//go:build !linux

package usb

import "time"

type Device struct{}

func Open(info Info) (*Device, error) { return nil, ErrUnsupported }

func OpenMatch(m Match) (*Device, Info, error) { return nil, Info{}, ErrUnsupported }

func (d *Device) Claim(iface uint32) error   { return ErrUnsupported }
func (d *Device) Release(iface uint32) error { return ErrUnsupported }
func (d *Device) Detach(iface uint32) error  { return ErrUnsupported }

func (d *Device) BulkWrite(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	return 0, ErrUnsupported
}

func (d *Device) BulkRead(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	return 0, ErrUnsupported
}

func (d *Device) Close() error { return nil }

func (d *Device) String() string { return "unsupported" }
