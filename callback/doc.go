// Package callback lets host code call interfaces implemented on the
// foreign side.
//
// The foreign side registers a VTable per interface: one Method per
// interface method, in declaration order, plus Free. Host code receives a
// foreign handle, wraps it in a Proxy and invokes methods through it.
// Arguments and results travel as codec buffers and the outcome as a
// call.Status, exactly as for calls in the other direction.
package callback
