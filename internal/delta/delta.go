// Package delta expresses every mutation to world state, the memory set,
// and the narrative tree as an inverse-computable patch pair, the way the
// teacher tracks a lore entry's confidence before and after a feedback
// event -- generalized here from "one field, before and after" into
// "an arbitrary JSON tree, before and after."
package delta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpKind is one of the four patch operation kinds the wire form supports.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
	OpMove    OpKind = "move"
)

// Op is a single JSON-pointer patch operation.
type Op struct {
	Op    OpKind          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Pair is the sole handle to a single mutation: apply moves a document
// forward, revert moves it back.
type Pair struct {
	Apply  []Op `json:"apply"`
	Revert []Op `json:"revert"`
}

// Apply runs an op sequence against a JSON document, validating that
// remove/replace targets exist before touching the document. Most
// operations run directly against gjson/sjson dot paths; an operation
// targeting an array index additionally goes through a splice step, since
// sjson's index assignment overwrites rather than inserts and JSON Patch
// array semantics require a true insert/delete at that position.
func Apply(doc []byte, ops []Op) ([]byte, error) {
	out := doc
	for _, op := range ops {
		var err error
		switch op.Op {
		case OpAdd:
			out, err = applyInsert(out, op.Path, op.Value)
		case OpReplace:
			dotPath := pointerToPath(op.Path)
			if !gjson.GetBytes(out, dotPath).Exists() {
				return nil, fmt.Errorf("delta: replace %s: path not found", op.Path)
			}
			out, err = sjson.SetRawBytes(out, dotPath, op.Value)
		case OpRemove:
			dotPath := pointerToPath(op.Path)
			if !gjson.GetBytes(out, dotPath).Exists() {
				return nil, fmt.Errorf("delta: remove %s: path not found", op.Path)
			}
			out, err = applyDelete(out, op.Path)
		case OpMove:
			fromDotPath := pointerToPath(op.From)
			result := gjson.GetBytes(out, fromDotPath)
			if !result.Exists() {
				return nil, fmt.Errorf("delta: move from %s: path not found", op.From)
			}
			raw := []byte(result.Raw)
			out, err = applyDelete(out, op.From)
			if err != nil {
				return nil, fmt.Errorf("delta: move (remove source) %s: %w", op.From, err)
			}
			out, err = applyInsert(out, op.Path, raw)
		default:
			return nil, fmt.Errorf("delta: unknown op kind %q", op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("delta: %s %s: %w", op.Op, op.Path, err)
		}
	}
	return out, nil
}

// applyInsert adds value at path. If path's last segment is a numeric index
// into an array, the value is spliced in (shifting later elements right)
// rather than overwriting, matching JSON Patch "add" semantics for arrays.
// Otherwise it behaves as a plain key set.
func applyInsert(doc []byte, path string, value json.RawMessage) ([]byte, error) {
	if parentPath, index, ok := arrayTarget(doc, path); ok {
		return spliceArray(doc, parentPath, index, spliceInsertOp, value)
	}
	return sjson.SetRawBytes(doc, pointerToPath(path), value)
}

// applyDelete removes whatever lives at path, splicing an array element out
// (shifting later elements left) when path targets one.
func applyDelete(doc []byte, path string) ([]byte, error) {
	if parentPath, index, ok := arrayTarget(doc, path); ok {
		return spliceArray(doc, parentPath, index, spliceDeleteOp, nil)
	}
	return sjson.DeleteBytes(doc, pointerToPath(path))
}

// arrayTarget reports whether path's parent container is a JSON array, and
// if so returns the parent's dot path (empty string means the document root
// itself is the array) and the numeric index named by path's last segment.
func arrayTarget(doc []byte, path string) (parentDotPath string, index int, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", 0, false
	}
	segments := strings.Split(trimmed, "/")
	last := segments[len(segments)-1]
	idx, err := strconv.Atoi(last)
	if err != nil || idx < 0 {
		return "", 0, false
	}

	parentPtr := "/" + strings.Join(segments[:len(segments)-1], "/")
	if parentPtr == "/" {
		parentPtr = ""
	}
	parentDotPath = pointerToPath(parentPtr)

	var parent gjson.Result
	if parentDotPath == "" {
		parent = gjson.ParseBytes(doc)
	} else {
		parent = gjson.GetBytes(doc, parentDotPath)
		if !parent.Exists() {
			return "", 0, false
		}
	}
	if !parent.IsArray() {
		return "", 0, false
	}
	return parentDotPath, idx, true
}

type spliceKind int

const (
	spliceInsertOp spliceKind = iota
	spliceDeleteOp
)

// spliceArray rebuilds the array at parentDotPath (or the whole document,
// when parentDotPath is "" and the document root is itself an array) with
// one element inserted at or removed from index.
func spliceArray(doc []byte, parentDotPath string, index int, kind spliceKind, value json.RawMessage) ([]byte, error) {
	var arr gjson.Result
	if parentDotPath == "" {
		arr = gjson.ParseBytes(doc)
	} else {
		arr = gjson.GetBytes(doc, parentDotPath)
	}

	elems := arr.Array()
	raws := make([]string, len(elems))
	for i, e := range elems {
		raws[i] = e.Raw
	}

	switch kind {
	case spliceInsertOp:
		if index > len(raws) {
			index = len(raws)
		}
		raws = append(raws, "")
		copy(raws[index+1:], raws[index:])
		raws[index] = string(value)
	case spliceDeleteOp:
		if index >= len(raws) {
			return nil, fmt.Errorf("index %d out of range (len %d)", index, len(raws))
		}
		raws = append(raws[:index], raws[index+1:]...)
	}

	newArray := "[" + strings.Join(raws, ",") + "]"

	if parentDotPath == "" {
		return []byte(newArray), nil
	}
	return sjson.SetRawBytes(doc, parentDotPath, []byte(newArray))
}
