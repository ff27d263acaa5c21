package usb

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

// SysfsDevices is where the kernel lists USB devices and interfaces.
const SysfsDevices = "/sys/bus/usb/devices"

// List returns every USB device currently known to sysfs.
func List() ([]Info, error) {
	return list(os.DirFS(SysfsDevices))
}

// Find returns the first device matching m, ordered by sysfs name.
func Find(m Match) (Info, error) {
	return find(os.DirFS(SysfsDevices), m)
}

func find(fsys fs.FS, m Match) (Info, error) {
	infos, err := list(fsys)
	if err != nil {
		return Info{}, err
	}
	for _, info := range infos {
		if m.matches(info) {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%w: no device %s", ErrNotFound, m)
}

func list(fsys fs.FS) ([]Info, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read usb devices: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		// "1-1:1.0" style entries are interfaces, "usb1" is a root hub
		if strings.Contains(e.Name(), ":") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info, err := readInfo(fsys, name)
		if err != nil {
			// devices can vanish between ReadDir and here
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func readInfo(fsys fs.FS, name string) (Info, error) {
	info := Info{Name: name}

	vid, err := readHex16(fsys, name, "idVendor")
	if err != nil {
		return Info{}, err
	}
	pid, err := readHex16(fsys, name, "idProduct")
	if err != nil {
		return Info{}, err
	}
	bus, err := readInt(fsys, name, "busnum")
	if err != nil {
		return Info{}, err
	}
	dev, err := readInt(fsys, name, "devnum")
	if err != nil {
		return Info{}, err
	}
	info.VendorID, info.ProductID = vid, pid
	info.Bus, info.Address = bus, dev

	if product, err := readAttr(fsys, name, "product"); err == nil {
		info.Product = product
	}
	return info, nil
}

func readAttr(fsys fs.FS, dir, attr string) (string, error) {
	b, err := fs.ReadFile(fsys, path.Join(dir, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readHex16(fsys fs.FS, dir, attr string) (uint16, error) {
	s, err := readAttr(fsys, dir, attr)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s/%s: %w", dir, attr, err)
	}
	return uint16(v), nil
}

func readInt(fsys fs.FS, dir, attr string) (int, error) {
	s, err := readAttr(fsys, dir, attr)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s/%s: %w", dir, attr, err)
	}
	return v, nil
}
