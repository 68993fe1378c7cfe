package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueName(t *testing.T) {
	tests := []struct {
		name     string
		group    string
		subgroup string
		event    string
		want     string
	}{
		{name: "no subgroup", group: "g", subgroup: "", event: "ev", want: "g:ev"},
		{name: "with subgroup", group: "g", subgroup: "sg", event: "ev", want: "g:sg:ev"},
		{name: "default group", group: "default", subgroup: "", event: "MESSAGE_CREATE", want: "default:MESSAGE_CREATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QueueName(tt.group, tt.subgroup, tt.event))
		})
	}
}

func TestQueueNameIsDeterministic(t *testing.T) {
	first := QueueName("gateway", "shard0", "READY")
	second := QueueName("gateway", "shard0", "READY")
	assert.Equal(t, first, second)
}
