package usb

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbdevfs request layouts from linux/usbdevice_fs.h.
type bulkTransfer struct {
	Ep      uint32
	Len     uint32
	Timeout uint32 // ms, 0 waits forever
	Data    unsafe.Pointer
}

type ioctlRequest struct {
	Ifno int32
	Code int32
	Data unsafe.Pointer
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	usbdevfsType = 'U'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | usbdevfsType<<8 | nr
}

var (
	reqBulk             = ioc(iocRead|iocWrite, 2, unsafe.Sizeof(bulkTransfer{}))
	reqClaimInterface   = ioc(iocRead, 15, unsafe.Sizeof(uint32(0)))
	reqReleaseInterface = ioc(iocRead, 16, unsafe.Sizeof(uint32(0)))
	reqIoctl            = ioc(iocRead|iocWrite, 18, unsafe.Sizeof(ioctlRequest{}))
	reqDisconnect       = ioc(iocNone, 22, 0)
)

// Device is an open usbdevfs node.
type Device struct {
	fd      int
	path    string
	closed  atomic.Bool
	claimed []uint32
}

// Open opens the usbdevfs node of info.
func Open(info Info) (*Device, error) {
	p := info.Path()
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return &Device{fd: fd, path: p}, nil
}

// OpenMatch opens the first device matching m.
func OpenMatch(m Match) (*Device, Info, error) {
	info, err := Find(m)
	if err != nil {
		return nil, Info{}, err
	}
	d, err := Open(info)
	if err != nil {
		return nil, info, err
	}
	return d, info, nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// Claim takes exclusive ownership of interface iface. It fails with
// unix.EBUSY while a kernel driver is bound; see Detach.
func (d *Device) Claim(iface uint32) error {
	if _, err := d.ioctl(reqClaimInterface, unsafe.Pointer(&iface)); err != nil {
		return fmt.Errorf("claim interface %d: %w", iface, mapErrno(err))
	}
	d.claimed = append(d.claimed, iface)
	return nil
}

// Release gives interface iface back.
func (d *Device) Release(iface uint32) error {
	if _, err := d.ioctl(reqReleaseInterface, unsafe.Pointer(&iface)); err != nil {
		return fmt.Errorf("release interface %d: %w", iface, mapErrno(err))
	}
	for i, c := range d.claimed {
		if c == iface {
			d.claimed = append(d.claimed[:i], d.claimed[i+1:]...)
			break
		}
	}
	return nil
}

// Detach unbinds the kernel driver from interface iface. Having no driver
// bound is not an error.
func (d *Device) Detach(iface uint32) error {
	req := ioctlRequest{Ifno: int32(iface), Code: int32(reqDisconnect)}
	_, err := d.ioctl(reqIoctl, unsafe.Pointer(&req))
	if errors.Is(err, unix.ENODATA) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detach kernel driver from interface %d: %w", iface, mapErrno(err))
	}
	return nil
}

// BulkWrite sends p to an OUT endpoint. A zero timeout waits forever.
func (d *Device) BulkWrite(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	if endpoint&EndpointDirIn != 0 {
		return 0, fmt.Errorf("bulk write: endpoint %#02x is IN", endpoint)
	}
	n, err := d.bulk(endpoint, p, timeout)
	if err != nil {
		return n, wrapTransfer("bulk write", err)
	}
	return n, nil
}

// BulkRead receives into p from an IN endpoint. A zero timeout waits
// forever; an expired timeout returns an error matching ErrTimeout.
func (d *Device) BulkRead(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	if endpoint&EndpointDirIn == 0 {
		return 0, fmt.Errorf("bulk read: endpoint %#02x is OUT", endpoint)
	}
	n, err := d.bulk(endpoint, p, timeout)
	if err != nil {
		return n, wrapTransfer("bulk read", err)
	}
	return n, nil
}

func (d *Device) bulk(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	xfer := bulkTransfer{
		Ep:      uint32(endpoint),
		Len:     uint32(len(p)),
		Timeout: timeoutMillis(timeout),
	}
	if len(p) > 0 {
		xfer.Data = unsafe.Pointer(&p[0])
	}
	n, err := d.ioctl(reqBulk, unsafe.Pointer(&xfer))
	runtime.KeepAlive(p)
	return n, err
}

// Close releases claimed interfaces and closes the node.
func (d *Device) Close() error {
	if d.closed.Load() {
		return nil
	}
	for len(d.claimed) > 0 {
		if err := d.Release(d.claimed[0]); err != nil {
			d.claimed = d.claimed[1:]
		}
	}
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(d.fd)
}

func (d *Device) String() string { return d.path }

func wrapTransfer(op string, err error) error {
	err = mapErrno(err)
	if errors.Is(err, ErrTimeout) {
		return timeoutError{op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.ETIMEDOUT:
		return timeoutError{op: "usbdevfs"}
	case unix.ENODEV, unix.ESHUTDOWN:
		return fmt.Errorf("%w: %w", ErrDisconnected, errno)
	}
	return err
}
