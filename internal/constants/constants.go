// Package constants holds the default sizing and timing constants for the
// process conduit.
package constants

import "time"

// Sizing constants.
const (
	// MinQueuePayload is the minimum usable payload size of a single ring
	// buffer. A queue whose region rounds down to this size or smaller
	// fails to initialize.
	MinQueuePayload = 1024

	// DefaultSegmentSize is the default size of the shared-memory segment
	// a demo/test harness allocates, split evenly across the two queues.
	DefaultSegmentSize = 4 << 20 // 4MB

	// HandleTableInitialCapacity is the starting bucket count hint for the
	// handle table's underlying map.
	HandleTableInitialCapacity = 128
)

// Retry/backoff constants.
const (
	// PopRetryDelay is how long a dispatch loop sleeps after a transient
	// allocation failure from Pop before retrying.
	PopRetryDelay = time.Millisecond

	// PushRetryInitialDelay is the sleep duration on the first retry of a
	// bounded linear-backoff PutToParentQueue call.
	PushRetryInitialDelay = time.Millisecond

	// PushRetryMaxDelay caps the linear backoff's per-retry sleep, so a
	// parent queue that stays full is retried at least this often instead
	// of with ever-longer sleeps.
	PushRetryMaxDelay = 200 * time.Millisecond

	// StopJoinTimeout bounds how long Endpoint.Stop waits for a dispatch
	// loop to observe the shutdown wake and exit.
	StopJoinTimeout = 5 * time.Second
)

// NameMaxLen bounds the display label stored with a ring buffer, mirroring
// the bounded `name` field of the original queue control header.
const NameMaxLen = 64
