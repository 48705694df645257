// Package call implements the status protocol wrapped around every
// boundary call.
//
// Status codes:
//
//	0 CodeSuccess          no payload
//	1 CodeError            ErrorBuf holds the serialized domain error
//	2 CodeUnexpectedError  ErrorBuf holds a diagnostic string; empty when
//	                       lowering the diagnostic itself failed
//	3 CodeCancelled        async completion only, no payload
//
// Host side, exported functions wrap their body with Do or Void so that
// panics never cross the boundary:
//
//	func Divide(a, b int32, status *call.Status) int32 {
//		return call.Do(status, call.Domain(mathErrConv), func() (int32, error) {
//			return divide(a, b)
//		})
//	}
//
// Calling side, Check and CheckDomain turn a status back into a Go error.
package call
