// Package engine is the change-coalescing dispatch core: it merges bursts of
// raw filesystem events into one pending action per path, drains them after a
// debounce window, and executes the resulting batch on a bounded pool of
// workers against the configured transport.
package engine

// Action is the remote operation pending for a path. Exactly one action is
// pending per path at any time; later events replace earlier ones.
type Action int

const (
	ActionUpload Action = iota
	ActionDelete
	ActionMkdir
	ActionRmdir
)

// String returns the action name for log lines.
func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDelete:
		return "delete"
	case ActionMkdir:
		return "mkdir"
	case ActionRmdir:
		return "rmdir"
	default:
		return "unknown"
	}
}

// mergeAction resolves two actions queued for the same path within one
// debounce window. Latest wins: a create followed by a delete collapses to
// delete alone, so stale intermediate states are never dispatched. Kept as a
// named function (rather than implicit map overwrite) so the merge rule is
// documented and testable in isolation from timing.
func mergeAction(_, newer Action) Action {
	return newer
}

// WorkItem is an immutable snapshot of one pending action, taken when the
// coalescer flushes. Owned exclusively by the dispatcher until a worker
// completes it; never mutated after creation.
type WorkItem struct {
	LocalPath string
	Action    Action
}
