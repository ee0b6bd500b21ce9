//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

type unmapFunc func([]byte) error

func mapFile(f *os.File, size int) ([]byte, unmapFunc, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return nil, nil, &os.PathError{Op: "CreateFileMapping", Path: f.Name(), Err: err}
	}
	// the view keeps the mapping object alive
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return nil, nil, &os.PathError{Op: "MapViewOfFile", Path: f.Name(), Err: err}
	}
	unmap := func([]byte) error { return windows.UnmapViewOfFile(addr) }
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), unmap, nil
}

// mapAnon commits pages lazily, like MAP_ANON, so large arenas do not
// reserve paging file space up front.
func mapAnon(size int) ([]byte, unmapFunc, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, os.NewSyscallError("VirtualAlloc", err)
	}
	release := func([]byte) error { return windows.VirtualFree(addr, 0, windows.MEM_RELEASE) }
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), release, nil
}

func advise([]byte, AccessPattern) error { return nil }
