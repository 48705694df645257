package wasmhost

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-runtime/errors"
)

// guestMemory checks bounds on wazero memory access. Guest memory is
// little-endian; only the boundary payloads inside buffers are big-endian.
type guestMemory struct {
	mem api.Memory
}

func memoryOf(mod api.Module) (guestMemory, error) {
	mem := mod.Memory()
	if mem == nil {
		return guestMemory{}, errors.New(errors.PhaseHost, errors.KindNotFound).
			Detail("module %q has no memory", mod.Name()).
			Build()
	}
	return guestMemory{mem: mem}, nil
}

func (m guestMemory) outOfBounds(offset, length uint32) error {
	return errors.New(errors.PhaseHost, errors.KindOutOfBounds).
		Detail("guest memory access offset=%d length=%d size=%d", offset, length, m.mem.Size()).
		Build()
}

// read returns a view of guest memory. It is only valid until the guest
// runs again.
func (m guestMemory) read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfBounds(offset, length)
	}
	return data, nil
}

func (m guestMemory) write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return m.outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

func (m guestMemory) writeU8(offset uint32, v uint8) error {
	if !m.mem.WriteByte(offset, v) {
		return m.outOfBounds(offset, 1)
	}
	return nil
}

func (m guestMemory) writeU64(offset uint32, v uint64) error {
	if !m.mem.WriteUint64Le(offset, v) {
		return m.outOfBounds(offset, 8)
	}
	return nil
}
