// Package usb talks to a USB device's bulk endpoints through the Linux
// usbdevfs interface, without cgo or libusb.
package usb

import (
	"errors"
	"fmt"
	"time"
)

// DefaultVendorID is Qualcomm's USB vendor ID.
const DefaultVendorID uint16 = 0x05c6

// Default diagnostic interface and bulk endpoints.
const (
	DefaultInterface   uint32 = 0
	DefaultEndpointOut uint8  = 0x01
	DefaultEndpointIn  uint8  = 0x81

	// EndpointDirIn is set on the address of device-to-host endpoints.
	EndpointDirIn uint8 = 0x80
)

var (
	ErrNotFound     = errors.New("usb: device not found")
	ErrTimeout      = errors.New("usb: transfer timed out")
	ErrDisconnected = errors.New("usb: device disconnected")
	ErrClosed       = errors.New("usb: device closed")
	ErrUnsupported  = errors.New("usb: usbdevfs only supported on linux")
)

type timeoutError struct {
	op string
}

func (e timeoutError) Error() string        { return e.op + ": " + ErrTimeout.Error() }
func (e timeoutError) Timeout() bool        { return true }
func (e timeoutError) Temporary() bool      { return true }
func (e timeoutError) Is(target error) bool { return target == ErrTimeout }

// Match selects devices by ID. A zero ProductID matches any product.
type Match struct {
	VendorID  uint16
	ProductID uint16
}

func (m Match) matches(info Info) bool {
	if info.VendorID != m.VendorID {
		return false
	}
	return m.ProductID == 0 || info.ProductID == m.ProductID
}

func (m Match) String() string {
	if m.ProductID == 0 {
		return fmt.Sprintf("%04x:*", m.VendorID)
	}
	return fmt.Sprintf("%04x:%04x", m.VendorID, m.ProductID)
}

// Info describes a device found in sysfs.
type Info struct {
	Name      string // sysfs entry, e.g. "1-1.4"
	Bus       int
	Address   int
	VendorID  uint16
	ProductID uint16
	Product   string
}

// Path is the usbdevfs node for the device.
func (i Info) Path() string {
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", i.Bus, i.Address)
}

func (i Info) String() string {
	s := fmt.Sprintf("%s %04x:%04x bus %03d device %03d", i.Name, i.VendorID, i.ProductID, i.Bus, i.Address)
	if i.Product != "" {
		s += " " + i.Product
	}
	return s
}

// timeoutMillis converts a transfer timeout for usbdevfs, where 0 waits
// forever. Positive durations below a millisecond round up so they stay
// bounded.
func timeoutMillis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(ms)
}
