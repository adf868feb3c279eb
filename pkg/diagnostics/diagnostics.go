// Package diagnostics exposes a point-in-time snapshot of scheduler and
// backend counters for operational tooling. It sits outside the ABI
// surface entirely — nothing here is reachable from a C caller.
package diagnostics

import (
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/flowos/flowos/pkg/queue"
)

// Snapshot is a single diagnostics sample. The protobuf well-known types
// are used as-is (no generated message wraps this struct) purely so the
// timestamp/duration fields serialize with the standard protobuf wire
// encodings if a caller chooses to embed them in a larger proto message
// later.
type Snapshot struct {
	CapturedAt       *timestamppb.Timestamp
	OldestPendingOp  *durationpb.Duration
	LiveTokens       int
	SGAOutstanding   int64
}

// Capture builds a Snapshot from the live-token count and oldest-pending
// age the caller passes in, plus the current queue.Outstanding() count. It
// reads no scheduler slab itself.
func Capture(liveTokens int, oldestPending time.Duration) Snapshot {
	return Snapshot{
		CapturedAt:      timestamppb.Now(),
		OldestPendingOp: durationpb.New(oldestPending),
		LiveTokens:      liveTokens,
		SGAOutstanding:  queue.Outstanding(),
	}
}

// String renders a human-readable one-liner, the form cmd/flowosctl prints.
func (s Snapshot) String() string {
	return s.CapturedAt.AsTime().Format(time.RFC3339) +
		" live_tokens=" + strconv.Itoa(s.LiveTokens) +
		" sga_outstanding=" + strconv.FormatInt(s.SGAOutstanding, 10) +
		" oldest_pending=" + s.OldestPendingOp.AsDuration().String()
}
