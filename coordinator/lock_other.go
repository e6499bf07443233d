//go:build !unix

package coordinator

import "os"

func tryLock(f *os.File) (bool, error) {
	return false, ErrLockUnsupported
}

func unlock(f *os.File) error {
	return nil
}

func processAlive(pid int) bool {
	return true
}
