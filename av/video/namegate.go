package video

// NameGate decides whether a frame continues the decodable chain given the
// last accepted group and object. A nil last value means nothing has been
// accepted yet.
type NameGate interface {
	Allow(group, object uint64, lastGroup, lastObject *uint64) bool
}

// AllowAllGate accepts every frame.
type AllowAllGate struct{}

// Allow always returns true.
func (AllowAllGate) Allow(group, object uint64, lastGroup, lastObject *uint64) bool {
	return true
}

// SequentialObjectGate accepts the first object of a newer group, or the
// object immediately following the last accepted one in the same group.
type SequentialObjectGate struct{}

// Allow applies the sequential object rule.
func (SequentialObjectGate) Allow(group, object uint64, lastGroup, lastObject *uint64) bool {
	if object == 0 && (lastGroup == nil || group > *lastGroup) {
		return true
	}
	if lastGroup == nil || lastObject == nil {
		return false
	}
	return group == *lastGroup && object == *lastObject+1
}

// Behaviour chooses what happens to frames rejected by the name gate.
type Behaviour int

const (
	// BehaviourFreeze drops rejected frames, holding the last image until
	// the next group starts.
	BehaviourFreeze Behaviour = iota
	// BehaviourArtifact decodes rejected frames and marks them discontinuous.
	BehaviourArtifact
)

// String returns the string representation of the behaviour.
func (b Behaviour) String() string {
	switch b {
	case BehaviourFreeze:
		return "freeze"
	case BehaviourArtifact:
		return "artifact"
	default:
		return "unknown"
	}
}
