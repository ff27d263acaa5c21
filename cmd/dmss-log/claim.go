package main

import (
	"errors"
	"syscall"
)

type claimer interface {
	Claim(iface uint32) error
	Detach(iface uint32) error
}

// claimInterface claims iface and, when a kernel driver such as qcserial
// holds it, detaches the driver once and retries.
func claimInterface(dev claimer, iface uint32, detach bool, onDetach func(error)) error {
	err := dev.Claim(iface)
	if err == nil {
		return nil
	}
	if !detach || !isDeviceBusy(err) {
		return err
	}
	derr := dev.Detach(iface)
	if onDetach != nil {
		onDetach(derr)
	}
	if derr != nil {
		return errors.Join(err, derr)
	}
	return dev.Claim(iface)
}

func isDeviceBusy(err error) bool {
	return err != nil && errors.Is(err, syscall.EBUSY)
}
