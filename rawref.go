package turbotask

// RawRef is a type-erased, identity-comparable value produced by a task.
// key is the comparable token used for identity short-circuiting: two
// RawRefs with equal keys are considered the "same" value and do not dirty
// readers when one replaces the other. Value carries the actual payload a
// reader type-asserts back to its concrete type.
type RawRef struct {
	key   any
	Value any
}

// NewRawRef builds a RawRef with an explicit identity key. Persistent-task
// functions that want identity short-circuiting should pass a key derived
// the same way their content hash/equality already works — e.g. a hash
// string, a version counter, or the value itself when it is a comparable
// primitive.
func NewRawRef(key any, value any) RawRef {
	return RawRef{key: key, Value: value}
}

// sameIdentity reports whether a and b should be treated as the same value
// for dirtying purposes. Keys that are not comparable (e.g. slices, maps,
// funcs) never short-circuit: such a RawRef always dirties its readers on
// every write, which is the safe default.
func sameIdentity(a, b RawRef) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a.key == b.key
}
