package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v uint64) *uint64 { return &v }

func TestSequentialObjectGate(t *testing.T) {
	tests := []struct {
		name       string
		group      uint64
		object     uint64
		lastGroup  *uint64
		lastObject *uint64
		want       bool
	}{
		{"first_group_start", 0, 0, nil, nil, true},
		{"first_mid_group", 3, 2, nil, nil, false},
		{"next_object", 3, 2, ptr(3), ptr(1), true},
		{"skipped_object", 3, 3, ptr(3), ptr(1), false},
		{"repeated_object", 3, 1, ptr(3), ptr(1), false},
		{"newer_group_start", 4, 0, ptr(3), ptr(7), true},
		{"older_group_start", 2, 0, ptr(3), ptr(7), false},
		{"same_group_restart", 3, 0, ptr(3), ptr(7), false},
		{"newer_group_mid", 5, 1, ptr(3), ptr(7), false},
		{"group_without_object", 3, 1, ptr(3), nil, false},
	}

	gate := SequentialObjectGate{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Allow(tt.group, tt.object, tt.lastGroup, tt.lastObject))
		})
	}
}

func TestAllowAllGate(t *testing.T) {
	assert.True(t, AllowAllGate{}.Allow(9, 9, nil, nil))
	assert.True(t, AllowAllGate{}.Allow(1, 5, ptr(3), ptr(1)))
}

func TestBehaviourString(t *testing.T) {
	assert.Equal(t, "freeze", BehaviourFreeze.String())
	assert.Equal(t, "artifact", BehaviourArtifact.String())
	assert.Equal(t, "unknown", Behaviour(7).String())
}
