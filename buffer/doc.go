// Package buffer implements the byte buffers exchanged across the boundary.
//
// A single process allocator owns every buffer from Alloc to Free, so the
// foreign side allocates outgoing argument buffers through the same functions
// the host uses to release them. Backing arrays are pooled.
//
//	b := buffer.FromBytes(payload)
//	// hand b to the other side; it calls buffer.Free exactly once
package buffer
