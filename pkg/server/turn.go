package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/acpkit/acp-go/pkg/bridge"
	"github.com/acpkit/acp-go/pkg/catalog"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/observability"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/session"
)

// Agent implements the model side of a prompt turn. The runtime handles
// the wire; the agent decides what to stream, which tools to call, and
// when the turn ends.
//
// Prompt must honor ctx as its cooperative cancellation signal: check it
// between steps (Turn.Checkpoint) and return StopReasonCancelled when it
// fires. Returning an error does not sever the transport; the runtime
// reports the failure as a final update and closes the turn with a
// refusal.
type Agent interface {
	Prompt(ctx context.Context, turn *Turn) (protocol.StopReason, error)
}

// ExtensionHandler is optionally implemented by agents that serve
// namespaced extension methods.
type ExtensionHandler interface {
	HandleExtension(ctx context.Context, method string, params []byte) (interface{}, error)
}

// Turn is the agent's handle on one prompt turn: the session, the client
// bridge, the tool catalog, and the ordered update stream.
type Turn struct {
	state  *session.State
	client bridge.Client
	prompt []protocol.ContentBlock
	logger logging.Logger

	// sendMu serializes update notifications so updates for one session
	// are never reordered relative to each other.
	sendMu sync.Mutex

	mu        sync.Mutex
	toolCalls map[string]*ToolCall
}

func newTurn(state *session.State, client bridge.Client, prompt []protocol.ContentBlock, logger logging.Logger) *Turn {
	return &Turn{
		state:     state,
		client:    client,
		prompt:    prompt,
		logger:    logger,
		toolCalls: make(map[string]*ToolCall),
	}
}

// SessionID identifies the session this turn runs in.
func (t *Turn) SessionID() string { return t.state.ID }

// Cwd is the session's working directory.
func (t *Turn) Cwd() string { return t.state.Cwd }

// Prompt is the user content that started the turn.
func (t *Turn) Prompt() []protocol.ContentBlock { return t.prompt }

// Catalog is the session's tool catalog, fixed at session creation.
func (t *Turn) Catalog() *catalog.Catalog { return t.state.Catalog }

// Client is the capability bridge back to this connection's client.
func (t *Turn) Client() bridge.Client { return t.client }

// Checkpoint is a cooperative cancellation point. Agents call it between
// steps; it returns a cancelled error once session/cancel has fired.
func (t *Turn) Checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return acperrors.TurnCancelled(t.state.ID)
	default:
		return nil
	}
}

func (t *Turn) sendUpdate(ctx context.Context, update protocol.SessionUpdate) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.client.SessionUpdate(ctx, protocol.SessionUpdateParams{
		SessionID: t.state.ID,
		Update:    update,
	})
}

// Message streams one agent message chunk to the client.
func (t *Turn) Message(ctx context.Context, text string) {
	block := protocol.TextBlock(text)
	t.sendUpdate(ctx, protocol.SessionUpdate{
		Kind:    protocol.UpdateAgentMessageChunk,
		Content: &block,
	})
}

// Thought streams one agent thought chunk to the client.
func (t *Turn) Thought(ctx context.Context, text string) {
	block := protocol.TextBlock(text)
	t.sendUpdate(ctx, protocol.SessionUpdate{
		Kind:    protocol.UpdateAgentThoughtChunk,
		Content: &block,
	})
}

// Plan announces or revises the agent's plan.
func (t *Turn) Plan(ctx context.Context, entries []protocol.PlanEntry) {
	t.sendUpdate(ctx, protocol.SessionUpdate{
		Kind: protocol.UpdatePlan,
		Plan: entries,
	})
}

// RequestPermission prompts the client before a gated tool call runs.
func (t *Turn) RequestPermission(ctx context.Context, call *ToolCall, options []protocol.PermissionOption) (protocol.PermissionOutcome, error) {
	return t.client.RequestPermission(ctx, protocol.RequestPermissionParams{
		SessionID: t.state.ID,
		ToolCall:  call.snapshot(),
		Options:   options,
	})
}

// StartToolCall begins tracking one tool side effect in pending status and
// emits its initial tool_call update.
func (t *Turn) StartToolCall(ctx context.Context, title string, kind protocol.ToolKind) *ToolCall {
	call := &ToolCall{
		turn:   t,
		id:     "call_" + uuid.NewString(),
		title:  title,
		kind:   kind,
		status: protocol.ToolCallPending,
	}
	t.mu.Lock()
	t.toolCalls[call.id] = call
	t.mu.Unlock()

	t.sendUpdate(ctx, protocol.SessionUpdate{
		Kind:     protocol.UpdateToolCall,
		ToolCall: call.snapshotPtr(),
	})
	return call
}

// ToolCall is one tracked side effect of a turn. Status moves forward
// only; every accepted change goes out as exactly one notification.
type ToolCall struct {
	turn *Turn

	mu        sync.Mutex
	id        string
	title     string
	kind      protocol.ToolKind
	status    protocol.ToolCallStatus
	content   []protocol.ContentBlock
	locations []protocol.FileLocation
}

// ID is the call's external id, referenced by permission prompts.
func (c *ToolCall) ID() string { return c.id }

// Status returns the current status.
func (c *ToolCall) Status() protocol.ToolCallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *ToolCall) snapshot() protocol.ToolCallUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *ToolCall) snapshotLocked() protocol.ToolCallUpdate {
	content := make([]protocol.ContentBlock, len(c.content))
	copy(content, c.content)
	locations := make([]protocol.FileLocation, len(c.locations))
	copy(locations, c.locations)
	return protocol.ToolCallUpdate{
		ToolCallID: c.id,
		Title:      c.title,
		Kind:       c.kind,
		Status:     c.status,
		Content:    content,
		Locations:  locations,
	}
}

func (c *ToolCall) snapshotPtr() *protocol.ToolCallUpdate {
	u := c.snapshot()
	return &u
}

// transition applies one status change and emits its notification. A
// change violating monotonicity is rejected.
func (c *ToolCall) transition(ctx context.Context, to protocol.ToolCallStatus, content []protocol.ContentBlock) error {
	c.mu.Lock()
	if !c.status.CanTransition(to) {
		from := c.status
		c.mu.Unlock()
		return acperrors.Newf(acperrors.CodeInvalidRequest,
			acperrors.CategoryValidation, acperrors.SeverityError,
			"Invalid tool call transition %s -> %s", from, to)
	}
	c.status = to
	if len(content) > 0 {
		c.content = append(c.content, content...)
	}
	update := c.snapshotLocked()
	c.mu.Unlock()

	c.turn.sendUpdate(ctx, protocol.SessionUpdate{
		Kind:     protocol.UpdateToolCallUpdate,
		ToolCall: &update,
	})
	return nil
}

// Begin moves the call to in_progress.
func (c *ToolCall) Begin(ctx context.Context) error {
	return c.transition(ctx, protocol.ToolCallInProgress, nil)
}

// Complete finishes the call successfully, attaching any result content.
func (c *ToolCall) Complete(ctx context.Context, content ...protocol.ContentBlock) error {
	return c.transition(ctx, protocol.ToolCallCompleted, content)
}

// Fail finishes the call with an error message as content.
func (c *ToolCall) Fail(ctx context.Context, reason string) error {
	return c.transition(ctx, protocol.ToolCallFailed, []protocol.ContentBlock{protocol.TextBlock(reason)})
}

// AddLocation attaches a touched file to the call. Emits one update.
func (c *ToolCall) AddLocation(ctx context.Context, loc protocol.FileLocation) {
	c.mu.Lock()
	c.locations = append(c.locations, loc)
	update := c.snapshotLocked()
	c.mu.Unlock()

	c.turn.sendUpdate(ctx, protocol.SessionUpdate{
		Kind:     protocol.UpdateToolCallUpdate,
		ToolCall: &update,
	})
}

// runTurn executes one prompt turn end to end. It always produces exactly
// one terminal result: agent errors become a final failure update plus a
// refusal stop, and cancellation becomes a cancelled stop. The transport
// is never severed because a turn went wrong.
func runTurn(ctx context.Context, agent Agent, turn *Turn, logger logging.Logger) protocol.PromptResult {
	ctx, span := observability.StartSpan(ctx, "session/prompt",
		attribute.String("acp.session_id", turn.SessionID()),
		attribute.String("acp.discovery_tier", turn.Catalog().Tier().String()))
	defer span.End()

	stop, err := agent.Prompt(ctx, turn)

	var result protocol.PromptResult
	switch {
	case err == nil:
		if stop == "" {
			stop = protocol.StopReasonEndTurn
		}
		result = protocol.PromptResult{StopReason: stop}

	case ctx.Err() != nil || acperrors.IsCode(err, acperrors.CodeTurnCancelled):
		logger.Info("turn cancelled",
			logging.String("session_id", turn.SessionID()))
		result = protocol.PromptResult{StopReason: protocol.StopReasonCancelled}

	default:
		logger.WithError(err).Error("turn failed",
			logging.String("session_id", turn.SessionID()))
		observability.RecordError(span, err)
		turn.Message(ctx, "The turn failed: "+err.Error())
		result = protocol.PromptResult{StopReason: protocol.StopReasonRefusal}
	}

	span.SetAttributes(attribute.String("acp.stop_reason", string(result.StopReason)))
	return result
}
