// Package guest builds minimal guest modules that forward their exports to
// host imports. They stand in for a compiled foreign library when the host
// side of the boundary is exercised through wazero.
package guest

import (
	"github.com/tetratelabs/wazero/api"
)

// MemoryExport is the name under which the guest exports its memory.
const MemoryExport = "memory"

// Builder assembles a guest module. Every function added is imported from
// the host module and re-exported under the same name by a trampoline that
// passes its parameters through unchanged.
type Builder struct {
	hostModule  string
	funcs       []function
	memoryPages uint32
}

type function struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// NewBuilder creates a builder for a guest importing from hostModule.
func NewBuilder(hostModule string) *Builder {
	return &Builder{hostModule: hostModule, memoryPages: 1}
}

// Func adds a forwarded function.
func (b *Builder) Func(name string, params, results []api.ValueType) *Builder {
	b.funcs = append(b.funcs, function{name: name, params: params, results: results})
	return b
}

// MemoryPages sets the initial size of the exported memory.
func (b *Builder) MemoryPages(n uint32) *Builder {
	b.memoryPages = n
	return b
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x01, b.typeSection())
		wasm = appendSection(wasm, 0x02, b.importSection())
		wasm = appendSection(wasm, 0x03, b.funcSection())
	}
	wasm = appendSection(wasm, 0x05, b.memorySection())
	wasm = appendSection(wasm, 0x07, b.exportSection())
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x0a, b.codeSection())
	}
	return wasm
}

// typeSection declares one signature per function; imports and trampolines
// share it.
func (b *Builder) typeSection() []byte {
	section := encodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		section = append(section, 0x60)
		section = append(section, encodeULEB128(uint32(len(f.params)))...)
		for _, t := range f.params {
			section = append(section, valType(t))
		}
		section = append(section, encodeULEB128(uint32(len(f.results)))...)
		for _, t := range f.results {
			section = append(section, valType(t))
		}
	}
	return section
}

func (b *Builder) importSection() []byte {
	section := encodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		section = appendName(section, b.hostModule)
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, encodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) funcSection() []byte {
	section := encodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		section = append(section, encodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) memorySection() []byte {
	section := []byte{0x01, 0x00}
	return append(section, encodeULEB128(b.memoryPages)...)
}

func (b *Builder) exportSection() []byte {
	section := encodeULEB128(uint32(len(b.funcs) + 1))
	section = appendName(section, MemoryExport)
	section = append(section, 0x02, 0x00)

	// trampolines follow the imports in the function index space
	imported := len(b.funcs)
	for i, f := range b.funcs {
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, encodeULEB128(uint32(imported+i))...)
	}
	return section
}

func (b *Builder) codeSection() []byte {
	section := encodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		body := trampoline(uint32(i), len(f.params))
		section = append(section, encodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

// trampoline is local.get 0..n-1; call target; end.
func trampoline(target uint32, params int) []byte {
	body := []byte{0x00}
	for i := 0; i < params; i++ {
		body = append(body, 0x20)
		body = append(body, encodeULEB128(uint32(i))...)
	}
	body = append(body, 0x10)
	body = append(body, encodeULEB128(target)...)
	return append(body, 0x0b)
}
