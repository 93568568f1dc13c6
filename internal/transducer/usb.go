package transducer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
)

// USBDeviceID identifies a USB audio interface
type USBDeviceID struct {
	VendorID  uint16
	ProductID uint16
}

func (id USBDeviceID) String() string {
	return fmt.Sprintf("usb:%04x:%04x", id.VendorID, id.ProductID)
}

// Zero reports whether no device is configured
func (id USBDeviceID) Zero() bool {
	return id.VendorID == 0 && id.ProductID == 0
}

// USBMonitor checks that the USB audio interface backing the ALSA device is
// attached, so calls fail fast instead of waiting on a missing card
type USBMonitor struct {
	id       USBDeviceID
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	ctx       *gousb.Context
	present   bool
	checkedAt time.Time
	closed    bool
}

// NewUSBMonitor opens a libusb context and performs an initial scan.
// interval bounds how often the bus is re-enumerated.
func NewUSBMonitor(id USBDeviceID, interval time.Duration, logger *slog.Logger) (*USBMonitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if id.Zero() {
		return nil, fmt.Errorf("usb vendor/product id not configured")
	}

	m := &USBMonitor{
		id:       id,
		interval: interval,
		logger:   logger,
		ctx:      gousb.NewContext(),
	}

	m.mu.Lock()
	present, err := m.scanLocked()
	m.mu.Unlock()
	if err != nil {
		m.ctx.Close()
		return nil, fmt.Errorf("usb scan: %w", err)
	}

	logger.Info("USB audio monitor initialized",
		"device", id.String(),
		"present", present,
	)

	return m, nil
}

// ID returns the monitored device id
func (m *USBMonitor) ID() USBDeviceID {
	return m.id
}

// Present reports whether the device is attached, re-scanning the bus at
// most once per interval
func (m *USBMonitor) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if time.Since(m.checkedAt) < m.interval {
		return m.present
	}

	wasPresent := m.present
	present, err := m.scanLocked()
	if err != nil {
		m.logger.Debug("usb scan failed", "error", err)
		return false
	}

	if present != wasPresent {
		m.logger.Info("USB audio device state changed",
			"device", m.id.String(),
			"present", present,
		)
	}
	return present
}

func (m *USBMonitor) scanLocked() (bool, error) {
	// Match on the descriptor only; nothing is opened, so no device
	// permissions are needed.
	found := false
	devs, err := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) == m.id.VendorID && uint16(desc.Product) == m.id.ProductID {
			found = true
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return false, err
	}

	m.checkedAt = time.Now()
	m.present = found
	return found, nil
}

// Close releases the libusb context
func (m *USBMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.present = false

	if m.ctx != nil {
		err := m.ctx.Close()
		m.ctx = nil
		return err
	}
	return nil
}
