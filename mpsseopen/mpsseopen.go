// Package mpsseopen opens FTDI bridge channels for the mpsse engines. The
// chip is driven directly with FTDI's vendor requests and bulk endpoints
// over libusb; no serial-port or D2XX driver is involved.
package mpsseopen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// FT2232H default identifiers.
const (
	DefaultVendorID  = 0x0403
	DefaultProductID = 0x6010
)

// OpenVendorProduct opens the first device matching the USB vendor and
// product IDs and claims the given channel.
func OpenVendorProduct(vid, pid uint16, ch Channel) (*USBDevice, error) {
	ctx := gousb.NewContext()
	return open(ctx, func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	}, ch)
}

// OpenBusDevice opens the device at the given bus and device number (the
// pair lsusb reports; not the port path) and claims the given channel.
func OpenBusDevice(bus, device int, ch Channel) (*USBDevice, error) {
	ctx := gousb.NewContext()
	return open(ctx, func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == device
	}, ch)
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) || parts[index] == "" {
		return def
	}
	return parts[index]
}

func parseChannel(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "a":
		return ChannelA, nil
	case "b":
		return ChannelB, nil
	}
	return 0, fmt.Errorf("mpsseopen: unknown channel %q", s)
}

// OpenPath opens a device described by a colon-separated path:
//
//	usb[:VID[:PID[:CHANNEL]]]     IDs in hex, e.g. usb:0403:6010:a
//	busdev:BUS:DEV[:CHANNEL]      numbers as shown by lsusb
func OpenPath(path string) (*USBDevice, error) {
	parts := strings.Split(path, ":")

	switch parts[0] {
	case "usb":
		vid, err := strconv.ParseUint(getPart(parts, 1, "0403"), 16, 16)
		if err != nil {
			return nil, err
		}
		pid, err := strconv.ParseUint(getPart(parts, 2, "6010"), 16, 16)
		if err != nil {
			return nil, err
		}
		ch, err := parseChannel(getPart(parts, 3, "a"))
		if err != nil {
			return nil, err
		}
		return OpenVendorProduct(uint16(vid), uint16(pid), ch)

	case "busdev":
		if len(parts) < 3 {
			return nil, errors.New("mpsseopen: busdev path needs bus and device numbers")
		}
		bus, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, err
		}
		dev, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, err
		}
		ch, err := parseChannel(getPart(parts, 3, "a"))
		if err != nil {
			return nil, err
		}
		return OpenBusDevice(bus, dev, ch)
	}

	return nil, errors.New("mpsseopen: device type not supported, use 'usb' or 'busdev'")
}
