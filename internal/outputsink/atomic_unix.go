//go:build !windows

package outputsink

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile spills a task's full output to disk atomically, so a
// reader never observes a half-written spill file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
