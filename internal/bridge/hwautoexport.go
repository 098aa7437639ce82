package bridge

import "github.com/midibridged/midibridged/internal/config"

// DeviceKind classifies a local sequencer client the way the underlying
// ALSA sequencer does: hardware ports backed by a physical device,
// software synths/apps, and the kernel's own system/announcement
// clients.
type DeviceKind int

const (
	DeviceHardware DeviceKind = iota
	DeviceSoftware
	DeviceSystem
)

// HardwareAutoExporter decides, for each local sequencer client the
// daemon learns about, whether it should be auto-exported as an
// RTP-MIDI listener, per the alsa_hw_auto_export.type config option.
// It holds no sequencer handle itself; callers feed it devices as the
// sequencer announces them and act on the returned decision.
type HardwareAutoExporter struct {
	policy config.ExportKind
}

// NewHardwareAutoExporter builds an exporter enforcing policy.
func NewHardwareAutoExporter(policy config.ExportKind) *HardwareAutoExporter {
	return &HardwareAutoExporter{policy: policy}
}

// ShouldExport reports whether a device of the given kind should be
// auto-exported under the configured policy.
func (h *HardwareAutoExporter) ShouldExport(kind DeviceKind) bool {
	switch h.policy {
	case config.ExportAll:
		return true
	case config.ExportHardware:
		return kind == DeviceHardware
	case config.ExportSoftware:
		return kind == DeviceSoftware
	case config.ExportSystem:
		return kind == DeviceSystem
	default:
		return false
	}
}
