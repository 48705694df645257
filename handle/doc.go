// Package handle turns reference-counted host objects into opaque 64-bit
// handles that foreign code can hold, and back.
//
// # Ownership
//
// A handle stands for one strong reference to an Arc.
//
//	Lower(a)  moves the caller's reference into a new handle (count unchanged)
//	Clone(h)  adds a reference and returns a handle aliasing the same object
//	Lift(h)   consumes h and hands its reference back to the caller
//	Free(h)   Lift followed by Release
//
// Every issued handle must be settled exactly once, by Lift or by Free.
//
// # Caller discipline
//
// Handles are a trust boundary. Settling a handle twice, or presenting one
// that was never issued, is a contract violation by the foreign caller.
// The table does detect most violations (null handles, released slots,
// reused slots when CheckGenerations is on, handles of the wrong type) and
// reports them as errors.KindInvalidHandle, but this is a diagnostic aid.
// Bindings must not rely on it: a stale handle whose slot and generation
// happen to match is indistinguishable from a live one.
//
// # Tables
//
// Tables are explicit values owned by a runtime; there is no global table.
// The table keeps lowered objects reachable for the garbage collector while
// only foreign code refers to them. Observers receive lifecycle events
// outside the table lock.
package handle
