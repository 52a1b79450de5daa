package protocol

import "encoding/json"

// ProtocolVersion is the ACP protocol version this runtime speaks.
const ProtocolVersion = 1

// Implementation identifies one side of the connection.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// FileSystemCapability describes the file operations a client can serve.
type FileSystemCapability struct {
	ReadTextFile  bool `json:"read_text_file"`
	WriteTextFile bool `json:"write_text_file"`
}

// ClientCapabilities is the structural capability set a client advertises at
// initialize time. It feeds tier-2 tool discovery when live discovery is
// unavailable.
type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

// Empty reports whether the client advertised no structural capabilities.
func (c ClientCapabilities) Empty() bool {
	return !c.FS.ReadTextFile && !c.FS.WriteTextFile && !c.Terminal
}

// PromptCapabilities describes the content types an agent accepts in prompts.
type PromptCapabilities struct {
	Audio           bool `json:"audio"`
	Image           bool `json:"image"`
	EmbeddedContext bool `json:"embedded_context"`
}

// AgentCapabilities is the agent's side of the capability exchange.
type AgentCapabilities struct {
	LoadSession        bool               `json:"load_session"`
	PromptCapabilities PromptCapabilities `json:"prompt_capabilities"`
}

// AuthMethod describes one way a client may authenticate.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InitializeParams is the first request on every connection.
type InitializeParams struct {
	ProtocolVersion int                `json:"protocol_version"`
	ClientInfo      *Implementation    `json:"client_info,omitempty"`
	Capabilities    ClientCapabilities `json:"client_capabilities"`
}

// InitializeResult echoes the negotiated protocol version and identifies
// the agent.
type InitializeResult struct {
	ProtocolVersion   int               `json:"protocol_version"`
	AgentInfo         Implementation    `json:"agent_info"`
	AgentCapabilities AgentCapabilities `json:"agent_capabilities"`
	AuthMethods       []AuthMethod      `json:"auth_methods"`
}

// AuthenticateParams carries credentials for one advertised auth method.
type AuthenticateParams struct {
	MethodID string `json:"method_id"`
	Token    string `json:"token,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// ToolServerConfig names an external tool server a session should use.
type ToolServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// NewSessionParams creates a fresh session rooted at a working directory.
type NewSessionParams struct {
	Cwd         string             `json:"cwd"`
	ToolServers []ToolServerConfig `json:"tool_servers,omitempty"`
}

// NewSessionResult carries the freshly issued opaque session id.
type NewSessionResult struct {
	SessionID string `json:"session_id"`
}

// LoadSessionParams reopens a previously created session.
type LoadSessionParams struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd,omitempty"`
}

// ForkSessionParams forks an existing session into a new session id that
// inherits the parent's discovery cache.
type ForkSessionParams struct {
	SessionID string `json:"session_id"`
}

// ResumeSessionParams re-attaches a session id from a previous connection.
// Resume preserves the logical session id and its discovery cache; it does
// not replay in-flight turn state.
type ResumeSessionParams struct {
	SessionID string `json:"session_id"`
}

// ListSessionsParams supports cursor pagination over live sessions.
type ListSessionsParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SessionInfo describes one live session in a session/list result.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd,omitempty"`
	Tier      int    `json:"discovery_tier,omitempty"`
}

// ListSessionsResult is the paginated session/list response.
type ListSessionsResult struct {
	Sessions   []SessionInfo `json:"sessions"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// SetModeParams switches a session's operating mode.
type SetModeParams struct {
	SessionID string `json:"session_id"`
	ModeID    string `json:"mode_id"`
}

// SetModelParams switches a session's configured model.
type SetModelParams struct {
	SessionID string `json:"session_id"`
	ModelID   string `json:"model_id"`
}

// SetConfigOptionParams sets one named configuration option on a session.
// Unrecognized keys are stored as-is for forward compatibility.
type SetConfigOptionParams struct {
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
}

// ContentBlock is one unit of prompt or update content. Only text blocks
// are interpreted; other types pass through for forward compatibility.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// PromptParams starts one agent turn on a session.
type PromptParams struct {
	SessionID string         `json:"session_id"`
	Prompt    []ContentBlock `json:"prompt"`
}

// StopReason explains why a turn's terminal response was produced.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonCancelled StopReason = "cancelled"
	StopReasonRefusal   StopReason = "refusal"
)

// PromptResult is the single terminal response of a turn.
type PromptResult struct {
	StopReason StopReason `json:"stop_reason"`
}

// CancelParams advises a running turn to stop at its next checkpoint.
type CancelParams struct {
	SessionID string `json:"session_id"`
}

// SessionUpdateKind discriminates session/update notification payloads.
type SessionUpdateKind string

const (
	UpdateUserMessageChunk  SessionUpdateKind = "user_message_chunk"
	UpdateAgentMessageChunk SessionUpdateKind = "agent_message_chunk"
	UpdateAgentThoughtChunk SessionUpdateKind = "agent_thought_chunk"
	UpdateToolCall          SessionUpdateKind = "tool_call"
	UpdateToolCallUpdate    SessionUpdateKind = "tool_call_update"
	UpdatePlan              SessionUpdateKind = "plan"
)

// SessionUpdate is the body of one session/update notification. Exactly one
// payload field is set, selected by Kind.
type SessionUpdate struct {
	Kind     SessionUpdateKind `json:"session_update"`
	Content  *ContentBlock     `json:"content,omitempty"`
	ToolCall *ToolCallUpdate   `json:"tool_call,omitempty"`
	Plan     []PlanEntry       `json:"plan,omitempty"`
}

// PlanEntry is one step of an agent-announced plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// SessionUpdateParams wraps an update with its session id. Updates for one
// session are never reordered relative to each other.
type SessionUpdateParams struct {
	SessionID string        `json:"session_id"`
	Update    SessionUpdate `json:"update"`
}

// ToolKind coarsely classifies a tool for display purposes.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindExecute ToolKind = "execute"
	ToolKindSearch  ToolKind = "search"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindThink   ToolKind = "think"
	ToolKindOther   ToolKind = "other"
)

// ToolCallStatus tracks one tool call side effect of a turn. Transitions
// are monotonic: a terminal status never reverts to a non-terminal one.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// CanTransition reports whether a status change obeys monotonicity.
func (s ToolCallStatus) CanTransition(to ToolCallStatus) bool {
	if s == to {
		return false
	}
	if s.Terminal() {
		return false
	}
	if s == ToolCallInProgress && to == ToolCallPending {
		return false
	}
	return true
}

// FileLocation points an update at a file the tool call touched.
type FileLocation struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// ToolCallUpdate is the payload of tool_call and tool_call_update updates.
// Every status change is the payload of exactly one outbound notification.
type ToolCallUpdate struct {
	ToolCallID string         `json:"tool_call_id"`
	Title      string         `json:"title,omitempty"`
	Kind       ToolKind       `json:"kind,omitempty"`
	Status     ToolCallStatus `json:"status"`
	Content    []ContentBlock `json:"content,omitempty"`
	Locations  []FileLocation `json:"locations,omitempty"`
}

// ReadTextFileParams asks the client to read a text file.
type ReadTextFileParams struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResult carries the file content.
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams asks the client to write a text file.
type WriteTextFileParams struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// PermissionOptionKind hints how an option should be presented.
type PermissionOptionKind string

const (
	PermissionAllowOnce    PermissionOptionKind = "allow_once"
	PermissionAllowAlways  PermissionOptionKind = "allow_always"
	PermissionRejectOnce   PermissionOptionKind = "reject_once"
	PermissionRejectAlways PermissionOptionKind = "reject_always"
)

// PermissionOption is one named choice in a permission prompt.
type PermissionOption struct {
	OptionID string               `json:"option_id"`
	Name     string               `json:"name"`
	Kind     PermissionOptionKind `json:"kind,omitempty"`
}

// RequestPermissionParams asks the client to approve a tool call.
type RequestPermissionParams struct {
	SessionID string             `json:"session_id"`
	ToolCall  ToolCallUpdate     `json:"tool_call"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOutcome is either exactly one selected option id or cancelled.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "selected" or "cancelled"
	OptionID string `json:"option_id,omitempty"`
}

// Selected reports whether an option was chosen.
func (o PermissionOutcome) Selected() bool {
	return o.Outcome == "selected"
}

// RequestPermissionResult wraps the permission outcome.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// EnvVariable is one environment entry for a terminal.
type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateTerminalParams asks the client to spawn a process.
type CreateTerminalParams struct {
	SessionID string        `json:"session_id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args,omitempty"`
	Cwd       string        `json:"cwd,omitempty"`
	Env       []EnvVariable `json:"env,omitempty"`
}

// CreateTerminalResult carries the new terminal handle.
type CreateTerminalResult struct {
	TerminalID string `json:"terminal_id"`
}

// TerminalOutputParams requests the output accumulated so far. Non-blocking;
// partial reads are allowed.
type TerminalOutputParams struct {
	SessionID  string `json:"session_id"`
	TerminalID string `json:"terminal_id"`
}

// TerminalExitStatus describes how a process ended.
type TerminalExitStatus struct {
	ExitCode *int    `json:"exit_code,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}

// TerminalOutputResult carries accumulated output and, once exited, status.
type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exit_status,omitempty"`
}

// WaitForExitParams blocks until the process exits, draining output first.
type WaitForExitParams struct {
	SessionID  string `json:"session_id"`
	TerminalID string `json:"terminal_id"`
}

// WaitForExitResult is the process exit status.
type WaitForExitResult struct {
	ExitStatus TerminalExitStatus `json:"exit_status"`
}

// ReleaseTerminalParams forgets a terminal handle without killing it.
type ReleaseTerminalParams struct {
	SessionID  string `json:"session_id"`
	TerminalID string `json:"terminal_id"`
}

// KillTerminalParams forcibly terminates a process and forgets its handle.
type KillTerminalParams struct {
	SessionID  string `json:"session_id"`
	TerminalID string `json:"terminal_id"`
}

// ListToolsParams asks the client to enumerate tools for a session. This is
// tier-1 live discovery.
type ListToolsParams struct {
	SessionID string `json:"session_id"`
}

// ToolDescriptor describes one callable tool.
type ToolDescriptor struct {
	Name               string          `json:"name"`
	Kind               ToolKind        `json:"kind,omitempty"`
	Description        string          `json:"description,omitempty"`
	InputSchema        json.RawMessage `json:"input_schema,omitempty"`
	RequiresPermission bool            `json:"requires_permission,omitempty"`
	Categories         []string        `json:"categories,omitempty"`
}

// ListToolsResult is the live discovery response.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}
