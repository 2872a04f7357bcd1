package telemetry

import (
	"sync"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
	"go.uber.org/zap"
)

// Topics are the device readings Telemetry listens to
var Topics = []string{mq.TopicStorage, mq.TopicWeight, mq.TopicGPS}

// State is the latest known device readings. Nil fields were never reported.
type State struct {
	Storage          *float64       `json:"storage,omitempty"`
	StorageUpdatedAt *time.Time     `json:"storage_updated_at,omitempty"`
	Weight           *float64       `json:"weight,omitempty"`
	WeightUpdatedAt  *time.Time     `json:"weight_updated_at,omitempty"`
	GPS              map[string]any `json:"gps,omitempty"`
	GPSUpdatedAt     *time.Time     `json:"gps_updated_at,omitempty"`
	LowStorage       bool           `json:"low_storage"`
	LowStorageReason string         `json:"low_storage_reason,omitempty"`
}

// Telemetry keeps the latest readings pushed by the device
type Telemetry struct {
	detector *Detector
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	state State
}

// New creates an empty telemetry state
func New(detector *Detector, logger *zap.Logger) *Telemetry {
	return &Telemetry{
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds t to router on every telemetry topic. Registering again is
// a no-op, so it is safe to call from every on-connect hook.
func (t *Telemetry) Register(router *mq.Router) []*mq.Registration {
	regs := make([]*mq.Registration, 0, len(Topics))
	for _, topic := range Topics {
		regs = append(regs, router.AddListener(topic, t))
	}
	return regs
}

// HandleMessage implements mq.Listener
func (t *Telemetry) HandleMessage(msg mq.Message) {
	logger := logging.WithTopic(t.logger, msg.Topic)
	at := t.now()

	switch msg.Topic {
	case mq.TopicStorage:
		level, ok := msg.Number("storage")
		if !ok {
			logger.Debug("storage message without numeric storage field")
			return
		}
		low, reason := t.detector.DetectLowStorage(level)

		t.mu.Lock()
		wasLow := t.state.LowStorage
		t.state.Storage = &level
		t.state.StorageUpdatedAt = &at
		t.state.LowStorage = low
		t.state.LowStorageReason = reason
		t.mu.Unlock()

		if low && !wasLow {
			logger.Warn("feeder storage low", zap.Float64("storage", level), zap.String("reason", reason))
		}

	case mq.TopicWeight:
		weight, ok := msg.Number("weight")
		if !ok {
			logger.Debug("weight message without numeric weight field")
			return
		}
		t.mu.Lock()
		t.state.Weight = &weight
		t.state.WeightUpdatedAt = &at
		t.mu.Unlock()

	case mq.TopicGPS:
		logger.Debug("received gps data", zap.Any("gps", msg.Data))
		t.mu.Lock()
		t.state.GPS = msg.Data
		t.state.GPSUpdatedAt = &at
		t.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state
func (t *Telemetry) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	if s.GPS != nil {
		gps := make(map[string]any, len(s.GPS))
		for k, v := range s.GPS {
			gps[k] = v
		}
		s.GPS = gps
	}
	return s
}
