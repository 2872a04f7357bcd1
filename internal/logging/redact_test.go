package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"":                                        "<empty>",
		"postgres://feeder:secret@db:5432/feeder": "postgres://feeder:xxxxx@db:5432/feeder",
		"ws://feeder:pw@broker.local:9001":        "ws://feeder:xxxxx@broker.local:9001",
		"tcp://user@host:1883":                    "tcp://user@host:1883",
		"amqp://localhost:5672":                   "amqp://localhost:5672",
		"host=db user=feeder password=secret":     "host=db user=feeder password=xxxxx",
	}

	for raw, want := range tests {
		assert.Equal(t, want, RedactURL(raw), raw)
	}

	assert.Equal(t, "host=db password=xxxxx sslmode=disable", RedactURL("host=db password='top secret' sslmode=disable"))
}
