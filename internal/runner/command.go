package runner

import "github.com/atlas-desktop/stratrunner/pkg/types"

// CommandKind enumerates the control/introspection commands a Runner
// services on its command queue, cooperatively multiplexed against its
// market-bar queue.
type CommandKind string

const (
	CommandPause       CommandKind = "pause"
	CommandResume      CommandKind = "resume"
	CommandStop        CommandKind = "stop"
	CommandGetSnapshot CommandKind = "get_snapshot"
	CommandGetHistory  CommandKind = "get_history"
)

// Command is sent by the Engine (or a direct caller) on a runner's
// command queue. Snapshot/history commands carry a one-shot reply
// channel; the runner ignores a failed send if the receiver side has
// already given up (timed out).
type Command struct {
	Kind CommandKind
	N    int // lookback count for GetHistory

	ReplySnapshot chan types.Snapshot
	ReplyHistory  chan []types.Bar
}
