// Package pprof exposes the runtime profiling endpoints of the recap
// server on a dedicated port, kept off the public API listener.
package pprof

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
)

// ListenAndServe blocks serving /debug/pprof on the given port.
func ListenAndServe(port int) error {
	return fmt.Errorf("pprof listener stopped: %w", http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), nil))
}
