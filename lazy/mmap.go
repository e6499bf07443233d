//go:build !wasip1 && !js

package lazy

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// mapFile maps the whole file read-only. The returned func releases it.
func mapFile(file *os.File) ([]byte, func() error, error) {
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	if mmapErr != nil {
		return nil, nil, mmapErr
	}
	return []byte(fileMmap), fileMmap.Unmap, nil
}
