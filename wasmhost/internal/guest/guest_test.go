package guest

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var i32 = api.ValueTypeI32
var i64 = api.ValueTypeI64

// decodeULEB128 decodes an unsigned LEB128 value and returns the number of
// bytes consumed.
func decodeULEB128(data []byte) (uint32, int) {
	var result uint32
	var shift uint32
	for i, b := range data {
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 35 {
			return result, i + 1
		}
	}
	return result, len(data)
}

func TestLEB128(t *testing.T) {
	tests := []struct {
		want []byte
		v    uint32
	}{
		{v: 0, want: []byte{0x00}},
		{v: 127, want: []byte{0x7f}},
		{v: 128, want: []byte{0x80, 0x01}},
		{v: 624485, want: []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		got := encodeULEB128(tt.v)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encode(%d) = %x, want %x", tt.v, got, tt.want)
		}
		v, n := decodeULEB128(got)
		if v != tt.v || n != len(got) {
			t.Errorf("decode(%x) = %d, %d", got, v, n)
		}
	}
}

func TestBuildMemoryOnly(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := rt.Instantiate(ctx, NewBuilder("host").MemoryPages(2).Build())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	mem := mod.ExportedMemory(MemoryExport)
	if mem == nil || mem.Size() != 2*65536 {
		t.Fatalf("memory = %v", mem)
	}
}

func TestTrampolinesForward(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	var seen []uint64
	_, err := rt.NewHostModuleBuilder("host").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			seen = append(seen, stack[0], stack[1])
			if mod.Memory() == nil {
				t.Error("caller has no memory")
			}
			stack[0] = stack[0] + stack[1]
		}), []api.ValueType{i64, i32}, []api.ValueType{i64}).
		Export("add").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}), nil, nil).
		Export("noop").
		Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	wasm := NewBuilder("host").
		Func("add", []api.ValueType{i64, i32}, []api.ValueType{i64}).
		Func("noop", nil, nil).
		Build()
	mod, err := rt.Instantiate(ctx, wasm)
	if err != nil {
		t.Fatalf("instantiate guest: %v", err)
	}

	res, err := mod.ExportedFunction("add").Call(ctx, 40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 42 {
		t.Errorf("add = %d, want 42", res[0])
	}
	if len(seen) != 2 || seen[0] != 40 || seen[1] != 2 {
		t.Errorf("host saw %v", seen)
	}
	if _, err := mod.ExportedFunction("noop").Call(ctx); err != nil {
		t.Errorf("noop: %v", err)
	}
}
