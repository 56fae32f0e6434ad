//go:build unix

package vm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapExecutable copies the code bytes into a fresh executable mapping.
// The mapping is created writable, filled, then flipped to read+exec;
// it is never writable and executable at the same time.
func (co *CodeObject) MapExecutable() error {
	if co.exec != nil {
		return nil
	}
	if len(co.Code) == 0 {
		return errors.New("vm: empty code object")
	}
	size := (len(co.Code) + unix.Getpagesize() - 1) &^ (unix.Getpagesize() - 1)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("vm: mmap code buffer: %w", err)
	}
	copy(mem, co.Code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return fmt.Errorf("vm: mprotect code buffer: %w", err)
	}
	co.exec = mem
	return nil
}

// Entry returns the executable entry address. MapExecutable must have
// succeeded.
func (co *CodeObject) Entry() uintptr {
	if co.exec == nil {
		panic("vm: CodeObject.Entry before MapExecutable")
	}
	return uintptr(unsafe.Pointer(&co.exec[0]))
}

// ReleaseExecutable unmaps the executable copy, if any.
func (co *CodeObject) ReleaseExecutable() error {
	if co.exec == nil {
		return nil
	}
	mem := co.exec
	co.exec = nil
	return unix.Munmap(mem)
}
