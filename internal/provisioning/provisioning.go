package provisioning

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	z "github.com/Oudwins/zog"
	"go.uber.org/zap"
)

// ErrInvalidCode is returned for QR payloads without device information
var ErrInvalidCode = errors.New("this QR code doesn't contain valid device information")

// Device is what a feeder's QR code carries
type Device struct {
	DeviceID string `json:"deviceId"`
	SSID     string `json:"ssid,omitempty"`
}

var deviceSchema = z.Struct(z.Shape{
	"deviceID": z.String().Trim().Min(1).Required(),
})

// ParseQR decodes a scanned QR payload. Anything that is not a JSON object
// with a non-empty deviceId is ErrInvalidCode.
func ParseQR(payload string) (Device, error) {
	var device Device
	if err := json.Unmarshal([]byte(payload), &device); err != nil {
		return Device{}, ErrInvalidCode
	}
	if errs := deviceSchema.Validate(&device); errs != nil {
		return Device{}, ErrInvalidCode
	}
	return device, nil
}

// Binding is a device attached to this feeder client
type Binding struct {
	Device
	BoundAt time.Time `json:"bound_at"`
}

// Registry remembers the most recently bound device
type Registry struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *Binding
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		now:    time.Now,
	}
}

// Bind parses payload and records the device, with ssid overriding the
// network named in the code when given
func (r *Registry) Bind(payload, ssid string) (Binding, error) {
	device, err := ParseQR(payload)
	if err != nil {
		r.logger.Warn("rejected QR code", zap.Error(err))
		return Binding{}, err
	}
	if ssid != "" {
		device.SSID = ssid
	}

	b := Binding{Device: device, BoundAt: r.now()}

	r.mu.Lock()
	r.current = &b
	r.mu.Unlock()

	r.logger.Info("device bound",
		zap.String("device_id", device.DeviceID),
		zap.String("ssid", device.SSID),
	)
	return b, nil
}

// Current returns the bound device, if any
func (r *Registry) Current() (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return Binding{}, false
	}
	return *r.current, true
}
