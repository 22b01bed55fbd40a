package delta

import (
	"encoding/json"
	"reflect"
)

// Diff produces the op sequence that transforms before into after. Maps are
// diffed key-by-key (so a map keyed by opaque ids is treated as a map, never
// as an ordered sequence -- essential so re-inserting a branch during an
// erase-undo restores the exact parent-children order). Arrays that are
// permutations of one another are diffed with move ops; arrays that differ
// in content are replaced wholesale at their own path, which still
// round-trips exactly and still confines the change to the subtree that was
// actually touched.
func Diff(before, after []byte) ([]Op, error) {
	var b, a any
	if len(before) > 0 {
		if err := json.Unmarshal(before, &b); err != nil {
			return nil, err
		}
	}
	if len(after) > 0 {
		if err := json.Unmarshal(after, &a); err != nil {
			return nil, err
		}
	}
	var ops []Op
	diffValue("", b, a, &ops)
	return ops, nil
}

func diffValue(path string, before, after any, ops *[]Op) {
	if reflect.DeepEqual(before, after) {
		return
	}

	switch {
	case before == nil && after != nil:
		*ops = append(*ops, Op{Op: OpAdd, Path: path, Value: mustMarshal(after)})
		return
	case before != nil && after == nil:
		*ops = append(*ops, Op{Op: OpRemove, Path: path})
		return
	}

	bMap, bIsMap := before.(map[string]any)
	aMap, aIsMap := after.(map[string]any)
	if bIsMap && aIsMap {
		diffMap(path, bMap, aMap, ops)
		return
	}

	bArr, bIsArr := before.([]any)
	aArr, aIsArr := after.([]any)
	if bIsArr && aIsArr {
		diffArray(path, bArr, aArr, ops)
		return
	}

	// Type mismatch or scalar difference: replace wholesale.
	*ops = append(*ops, Op{Op: OpReplace, Path: path, Value: mustMarshal(after)})
}

func diffMap(path string, before, after map[string]any, ops *[]Op) {
	for k, av := range after {
		p := joinPointer(path, k)
		bv, ok := before[k]
		if !ok {
			*ops = append(*ops, Op{Op: OpAdd, Path: p, Value: mustMarshal(av)})
			continue
		}
		diffValue(p, bv, av, ops)
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			*ops = append(*ops, Op{Op: OpRemove, Path: joinPointer(path, k)})
		}
	}
}

func diffArray(path string, before, after []any, ops *[]Op) {
	if samePermutation(before, after) {
		moveOps := permutationMoves(path, before, after)
		*ops = append(*ops, moveOps...)
		return
	}
	*ops = append(*ops, Op{Op: OpReplace, Path: path, Value: mustMarshal(after)})
}

// samePermutation reports whether before and after contain the same
// elements with the same multiplicities, possibly reordered.
func samePermutation(before, after []any) bool {
	if len(before) != len(after) {
		return false
	}
	counts := map[string]int{}
	for _, v := range before {
		counts[string(mustMarshal(v))]++
	}
	for _, v := range after {
		key := string(mustMarshal(v))
		counts[key]--
		if counts[key] < 0 {
			return false
		}
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// permutationMoves computes a sequence of "move" ops that rearranges
// `before` into `after`'s order in place, using the classic
// fix-position-i-by-finding-the-matching-later-element approach.
func permutationMoves(path string, before, after []any) []Op {
	current := make([]any, len(before))
	copy(current, before)

	var ops []Op
	for i := range after {
		if reflect.DeepEqual(current[i], after[i]) {
			continue
		}
		j := findFrom(current, after[i], i+1)
		if j == -1 {
			// Shouldn't happen given samePermutation passed, but guard
			// against duplicate-matching edge cases by falling back.
			continue
		}
		ops = append(ops, Op{
			Op:   OpMove,
			From: indexPointer(path, j),
			Path: indexPointer(path, i),
		})
		// Mirror the conceptual move in `current` so subsequent indices
		// compare against the post-move arrangement.
		val := current[j]
		current = append(current[:j], current[j+1:]...)
		current = append(current[:i], append([]any{val}, current[i:]...)...)
	}
	return ops
}

func findFrom(arr []any, target any, start int) int {
	for i := start; i < len(arr); i++ {
		if reflect.DeepEqual(arr[i], target) {
			return i
		}
	}
	return -1
}

func indexPointer(path string, i int) string {
	return path + "/" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Values here always originate from json.Unmarshal or plain Go
		// data the caller fed in, so marshaling back can't fail in
		// practice; panicking surfaces a real bug immediately instead of
		// threading an error through every diff call.
		panic(err)
	}
	return b
}
