// Package accel loads an externally supplied WASM module exporting an
// accelerated Hamming-distance function, over the ABI described for the
// vector store's binary top-K path: a function named hamming (or one of its
// aliases) taking (offsetA, offsetB, byteLen int32) and returning the
// popcount-of-XOR distance over a shared linear-memory region.
package accel

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// exportAliases lists every name the ABI permits for the Hamming export.
var exportAliases = []string{"hamming", "hamming_distance", "hammingDistance", "popcount_xor"}

const pageSize = 64 * 1024

// Accelerator wraps a loaded module and its exported Hamming function.
type Accelerator struct {
	runtime wazero.Runtime
	module  api.Module
	fn      api.Function
	memory  api.Memory
}

// Load instantiates the given WASM bytes and locates the Hamming export
// under one of its permitted aliases. Callers should treat any error here
// as permanent-fallback-for-the-session, per the spec's stated default.
func Load(ctx context.Context, wasmBytes []byte) (*Accelerator, error) {
	rt := wazero.NewRuntime(ctx)

	mod, err := rt.Instantiate(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("accel: instantiate module: %w", err)
	}

	var fn api.Function
	for _, name := range exportAliases {
		if f := mod.ExportedFunction(name); f != nil {
			fn = f
			break
		}
	}
	if fn == nil {
		mod.Close(ctx)
		rt.Close(ctx)
		return nil, fmt.Errorf("accel: module exports none of %v", exportAliases)
	}

	mem := mod.Memory()
	if mem == nil {
		mod.Close(ctx)
		rt.Close(ctx)
		return nil, fmt.Errorf("accel: module exports no linear memory")
	}

	return &Accelerator{runtime: rt, module: mod, fn: fn, memory: mem}, nil
}

// Hamming copies x and y into the module's shared linear memory back to
// back, growing memory in 64 KiB pages as needed, then invokes the export.
func (a *Accelerator) Hamming(ctx context.Context, x, y []byte) (int, error) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	offsetA := uint32(0)
	offsetB := uint32(n)
	needed := offsetB + uint32(n)

	if err := a.growTo(needed); err != nil {
		return 0, err
	}
	if !a.memory.Write(offsetA, x[:n]) {
		return 0, fmt.Errorf("accel: write operand A out of bounds")
	}
	if !a.memory.Write(offsetB, y[:n]) {
		return 0, fmt.Errorf("accel: write operand B out of bounds")
	}

	results, err := a.fn.Call(ctx, uint64(offsetA), uint64(offsetB), uint64(n))
	if err != nil {
		return 0, fmt.Errorf("accel: call hamming export: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("accel: hamming export returned no value")
	}
	return int(int32(results[0])), nil
}

func (a *Accelerator) growTo(bytesNeeded uint32) error {
	current := a.memory.Size()
	if current >= bytesNeeded {
		return nil
	}
	pagesNeeded := (bytesNeeded - current + pageSize - 1) / pageSize
	if _, ok := a.memory.Grow(pagesNeeded); !ok {
		return fmt.Errorf("accel: failed to grow memory by %d pages", pagesNeeded)
	}
	return nil
}

// Close releases the module and runtime.
func (a *Accelerator) Close(ctx context.Context) error {
	if a.module != nil {
		_ = a.module.Close(ctx)
	}
	if a.runtime != nil {
		return a.runtime.Close(ctx)
	}
	return nil
}
