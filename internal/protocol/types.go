// Package protocol defines the messages exchanged with the dashboard.
//
// Every frame is a JSON object {"event": "<name>", "data": <payload>}.
// Inbound payloads always carry the shared secret in a "secret" field.
package protocol

// Inbound events.
const (
	EventVerifyOwner    = "verify-owner"
	EventTerminalInput  = "terminal-input"
	EventTerminalResize = "terminal-resize"
	EventGetSystemInfo  = "get-system-info"
	EventGetFiles       = "get-files"
	EventReadFile       = "read-file"
	EventSaveFile       = "save-file"
	EventCreateNode     = "create-node"
	EventDeleteNode     = "delete-node"
	EventGetProcesses   = "get-processes"
	EventKillProcess    = "kill-process"
	EventPowerCommand   = "power-command"
	EventGetAuditLog    = "get-audit-log"
)

// Outbound events.
const (
	EventOwnerVerified  = "owner-verified"
	EventError          = "error"
	EventReadError      = "read-error"
	EventTerminalOutput = "terminal-output"
	EventSysStats       = "sys-stats"
	EventSystemInfo     = "system-info"
	EventFileList       = "file-list"
	EventFileContent    = "file-content"
	EventSaveSuccess    = "save-success"
	EventNodeCreated    = "node-created"
	EventNodeDeleted    = "node-deleted"
	EventProcessList    = "process-list"
	EventProcessKilled  = "process-killed"
	EventAuditLog       = "audit-log"
)

// ActionFailed is the only failure text a client ever sees.
const ActionFailed = "Action Failed"

const (
	MsgFileSaved = "File saved!"
	MsgSuccess   = "Success"
)

// Node kinds for create-node.
const (
	NodeFile   = "file"
	NodeFolder = "folder"
)

// VerifyOwner claims the owner identity.
type VerifyOwner struct {
	UserID string `json:"userId"`
}

// TerminalInput carries raw keystrokes for the shell.
type TerminalInput struct {
	Data string `json:"data"`
}

// TerminalResize changes the PTY window size.
type TerminalResize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// GetFiles lists a directory; an empty path means the home directory.
type GetFiles struct {
	Path string `json:"path"`
}

type ReadFile struct {
	FilePath string `json:"filePath"`
}

type SaveFile struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

type CreateNode struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type DeleteNode struct {
	Path string `json:"path"`
}

// KillProcess carries the pid as a pointer so an absent pid is told apart
// from zero. Range checks belong to the kill itself.
type KillProcess struct {
	PID *int `json:"pid"`
}

type PowerCommand struct {
	Action string `json:"action"`
}

// Empty is the payload of requests without arguments.
type Empty struct{}

// SysStats is pushed periodically once the owner is verified.
type SysStats struct {
	CPU      string `json:"cpu"`
	MemUsed  string `json:"memUsed"`
	MemTotal string `json:"memTotal"`
	Platform string `json:"platform"`
	Distro   string `json:"distro"`
}

type SystemInfo struct {
	Username string `json:"username"`
	Platform string `json:"platform"`
	HomeDir  string `json:"homeDir"`
}

// FileEntry is one item of a file-list.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Path  string `json:"path"`
}

type FileContent struct {
	Content string `json:"content"`
	Path    string `json:"path"`
}

// ProcessEntry is one item of a process-list.
type ProcessEntry struct {
	PID  int32   `json:"pid"`
	Name string  `json:"name"`
	CPU  float64 `json:"cpu"`
	Mem  float32 `json:"mem"`
}

type ProcessKilled struct {
	Success bool   `json:"success"`
	PID     int    `json:"pid"`
	Error   string `json:"error,omitempty"`
}
