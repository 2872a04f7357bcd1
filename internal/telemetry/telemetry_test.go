package telemetry

import (
	"testing"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTelemetry() (*Telemetry, *mq.Router) {
	tel := New(NewDetector(0.15), zap.NewNop())
	fixed := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	tel.now = func() time.Time { return fixed }
	return tel, mq.NewRouter(zap.NewNop(), metrics.NewUnregistered())
}

func TestDetectLowStorage(t *testing.T) {
	d := NewDetector(0.15)

	tests := []struct {
		level float64
		low   bool
	}{
		{0.85, false},
		{0.16, false},
		{0.15, true},
		{0.0, true},
		{-0.1, true},
		{1.5, true},
	}
	for _, tt := range tests {
		low, reason := d.DetectLowStorage(tt.level)
		assert.Equal(t, tt.low, low, "level %v", tt.level)
		if tt.low {
			assert.NotEmpty(t, reason)
		}
	}
}

func TestTelemetry_TracksReadings(t *testing.T) {
	tel, router := newTestTelemetry()
	tel.Register(router)

	router.Dispatch(mq.TopicStorage, []byte(`{"storage":0.1}`))
	router.Dispatch(mq.TopicWeight, []byte(`{"weight":3.2}`))
	router.Dispatch(mq.TopicGPS, []byte(`{"lat":-6.2,"lng":106.8}`))

	s := tel.Snapshot()
	require.NotNil(t, s.Storage)
	assert.Equal(t, 0.1, *s.Storage)
	assert.True(t, s.LowStorage)
	require.NotNil(t, s.Weight)
	assert.Equal(t, 3.2, *s.Weight)
	assert.Equal(t, -6.2, s.GPS["lat"])
	require.NotNil(t, s.GPSUpdatedAt)

	router.Dispatch(mq.TopicStorage, []byte(`{"storage":0.9}`))
	s = tel.Snapshot()
	assert.False(t, s.LowStorage)
	assert.Empty(t, s.LowStorageReason)
}

func TestTelemetry_IgnoresMissingFields(t *testing.T) {
	tel, router := newTestTelemetry()
	tel.Register(router)

	router.Dispatch(mq.TopicStorage, []byte(`{"level":"full"}`))
	router.Dispatch(mq.TopicWeight, []byte(`{"weight":"heavy"}`))

	s := tel.Snapshot()
	assert.Nil(t, s.Storage)
	assert.Nil(t, s.Weight)
}

func TestTelemetry_RegisterIsIdempotent(t *testing.T) {
	tel, router := newTestTelemetry()
	tel.Register(router)
	tel.Register(router)

	for _, topic := range Topics {
		assert.Equal(t, 1, router.ListenerCount(topic))
	}
}

func TestTelemetry_SnapshotIsCopy(t *testing.T) {
	tel, router := newTestTelemetry()
	tel.Register(router)
	router.Dispatch(mq.TopicGPS, []byte(`{"lat":1}`))

	s := tel.Snapshot()
	s.GPS["lat"] = 2.0

	assert.Equal(t, 1.0, tel.Snapshot().GPS["lat"])
}
