package delta

import "encoding/json"

// Mutate implements the pair construction protocol: produce a structural
// deep copy of doc, run mutator against the copy, and -- if the mutator
// reports success -- compute both directions of the patch pair and commit
// the copy as the new live value. If the mutator returns false, doc is left
// untouched and Mutate returns (nil, nil).
//
// The deep copy goes through a JSON marshal/unmarshal round trip, which is
// exactly the teacher's own habit of reading back a just-written row to
// compare against rather than trusting an in-memory reference -- here
// generalized from "one field" to "the whole document."
func Mutate[T any](doc *T, mutator func(*T) bool) (*Pair, error) {
	before, err := json.Marshal(*doc)
	if err != nil {
		return nil, err
	}

	var copyVal T
	if err := json.Unmarshal(before, &copyVal); err != nil {
		return nil, err
	}

	if ok := mutator(&copyVal); !ok {
		return nil, nil
	}

	after, err := json.Marshal(copyVal)
	if err != nil {
		return nil, err
	}

	applyOps, err := Diff(before, after)
	if err != nil {
		return nil, err
	}
	revertOps, err := Diff(after, before)
	if err != nil {
		return nil, err
	}

	*doc = copyVal

	return &Pair{Apply: applyOps, Revert: revertOps}, nil
}

// ApplyToValue is a typed convenience wrapper around Apply: it marshals v,
// applies ops, and unmarshals the result back into the same type.
func ApplyToValue[T any](v T, ops []Op) (T, error) {
	var zero T
	b, err := json.Marshal(v)
	if err != nil {
		return zero, err
	}
	out, err := Apply(b, ops)
	if err != nil {
		return zero, err
	}
	var result T
	if err := json.Unmarshal(out, &result); err != nil {
		return zero, err
	}
	return result, nil
}
