// SPDX-License-Identifier: MIT

package broadcast

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewOriginID mints a process instance identity for event envelopes. The
// uuid suffix keeps restarts of the same host/pid pair distinguishable.
func NewOriginID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String())
}
