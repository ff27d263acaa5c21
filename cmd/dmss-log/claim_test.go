package main

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

type fakeClaimer struct {
	claimErrs []error
	detachErr error
	claims    int
	detaches  int
}

func (f *fakeClaimer) Claim(iface uint32) error {
	f.claims++
	if len(f.claimErrs) == 0 {
		return nil
	}
	err := f.claimErrs[0]
	f.claimErrs = f.claimErrs[1:]
	return err
}

func (f *fakeClaimer) Detach(iface uint32) error {
	f.detaches++
	return f.detachErr
}

func busy() error {
	return fmt.Errorf("claim interface 0: %w", syscall.EBUSY)
}

func TestClaimInterfaceDetachesOnBusy(t *testing.T) {
	dev := &fakeClaimer{claimErrs: []error{busy()}}
	var detached int
	if err := claimInterface(dev, 0, true, func(error) { detached++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev.claims != 2 || dev.detaches != 1 || detached != 1 {
		t.Fatalf("claims=%d detaches=%d hook=%d", dev.claims, dev.detaches, detached)
	}
}

func TestClaimInterfacePassThrough(t *testing.T) {
	dev := &fakeClaimer{}
	if err := claimInterface(dev, 0, true, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev.claims != 1 || dev.detaches != 0 {
		t.Fatalf("claims=%d detaches=%d", dev.claims, dev.detaches)
	}
}

func TestClaimInterfaceNoDetachWhenDisabled(t *testing.T) {
	dev := &fakeClaimer{claimErrs: []error{busy()}}
	if err := claimInterface(dev, 0, false, nil); !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("expected busy, got %v", err)
	}
	if dev.detaches != 0 {
		t.Fatalf("detached with detach disabled")
	}
}

func TestClaimInterfaceOtherErrorNotRetried(t *testing.T) {
	dev := &fakeClaimer{claimErrs: []error{fmt.Errorf("claim: %w", syscall.EPERM)}}
	if err := claimInterface(dev, 0, true, nil); !errors.Is(err, syscall.EPERM) {
		t.Fatalf("expected EPERM, got %v", err)
	}
	if dev.claims != 1 || dev.detaches != 0 {
		t.Fatalf("claims=%d detaches=%d", dev.claims, dev.detaches)
	}
}

func TestClaimInterfaceDetachFails(t *testing.T) {
	dev := &fakeClaimer{claimErrs: []error{busy()}, detachErr: errors.New("no permission")}
	err := claimInterface(dev, 0, true, nil)
	if err == nil || !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("expected joined busy error, got %v", err)
	}
	if dev.claims != 1 {
		t.Fatalf("claim retried after failed detach")
	}
}

func TestIsDeviceBusy(t *testing.T) {
	if !isDeviceBusy(busy()) {
		t.Fatalf("expected busy to be detected")
	}
	if isDeviceBusy(errors.New("device or resource busy")) {
		t.Fatalf("busy must be matched by errno, not text")
	}
	if isDeviceBusy(nil) {
		t.Fatalf("nil error should not be busy")
	}
}
