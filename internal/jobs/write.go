// SPDX-License-Identifier: MIT

package jobs

import (
	"fmt"

	"github.com/google/renameio/v2"
)

// writeFileAtomic writes data so readers never observe a partial file:
// temp file, fsync, then rename over the destination.
func writeFileAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
