package provisioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseQR(t *testing.T) {
	device, err := ParseQR(`{"deviceId":"PF-0042"}`)
	require.NoError(t, err)
	assert.Equal(t, "PF-0042", device.DeviceID)

	device, err = ParseQR(`{"deviceId":"PF-0042","ssid":"home"}`)
	require.NoError(t, err)
	assert.Equal(t, "home", device.SSID)
}

func TestParseQR_Invalid(t *testing.T) {
	payloads := []string{
		``,
		`not json`,
		`null`,
		`[]`,
		`{}`,
		`{"deviceId":""}`,
		`{"id":"PF-0042"}`,
	}
	for _, payload := range payloads {
		_, err := ParseQR(payload)
		assert.ErrorIs(t, err, ErrInvalidCode, "payload %q", payload)
	}
}

func TestRegistry_Bind(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, ok := r.Current()
	assert.False(t, ok)

	_, err := r.Bind(`{"foo":1}`, "home")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, ok = r.Current()
	assert.False(t, ok)

	b, err := r.Bind(`{"deviceId":"PF-0042","ssid":"lab"}`, "home")
	require.NoError(t, err)
	assert.Equal(t, "home", b.SSID)

	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "PF-0042", current.DeviceID)
	assert.False(t, current.BoundAt.IsZero())
}
