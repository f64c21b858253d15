//go:build !unix

package memory

import "errors"

const sysMapSupported = false

var pageSize = uintptr(4096)

func sysAlloc(size uintptr) ([]byte, error) {
	return nil, errors.New("memory: system mapping not supported on this platform")
}

func sysFree(b []byte) error {
	return nil
}
