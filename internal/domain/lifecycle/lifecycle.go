// Package lifecycle holds shared constants for component start/stop handling.
package lifecycle

import "time"

// DefaultTimeout bounds start and stop hooks so a hung dependency cannot
// stall process shutdown.
const DefaultTimeout = 30 * time.Second
