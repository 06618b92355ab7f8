package childrun

import (
	"os"
	"runtime"
)

// heapBytes reports current heap usage. runtime.MemStats is the only
// source for this inside the process itself; nothing in the dependency
// set offers a lighter-weight self-introspection API.
func heapBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func pid() int { return os.Getpid() }
