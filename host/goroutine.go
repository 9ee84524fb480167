package host

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte(`goroutine `)

// currentGoroutine identifies the calling goroutine by the header of its
// stack trace. It returns 0 if the header is not in the expected form.
func currentGoroutine() uint64 {
	var buf [64]byte
	header := buf[:runtime.Stack(buf[:], false)]
	header, ok := bytes.CutPrefix(header, goroutinePrefix)
	if !ok {
		return 0
	}
	if i := bytes.IndexByte(header, ' '); i >= 0 {
		header = header[:i]
	}
	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
