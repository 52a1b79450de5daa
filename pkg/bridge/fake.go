package bridge

import (
	"context"
	"fmt"
	"sync"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// FakeClient is a deterministic in-memory bridge for tests. Every surface
// is scriptable and every call is recorded, so tests can assert on exactly
// what the agent asked of its client.
type FakeClient struct {
	mu sync.Mutex

	capabilities protocol.ClientCapabilities

	files map[string]string

	// Discovery script: tools returned by ListTools, or an error forcing
	// the caller to the next tier. DiscoveryCalls counts invocations.
	tools          []protocol.ToolDescriptor
	discoveryErr   error
	discoveryCalls int

	// Permission script: outcomes consumed in order; once exhausted the
	// first option is selected.
	permissionQueue []protocol.PermissionOutcome
	permissionReqs  []protocol.RequestPermissionParams

	updates []protocol.SessionUpdateParams

	terminals    map[string]*fakeTerminal
	terminalSeq  int
	writtenFiles []protocol.WriteTextFileParams
}

type fakeTerminal struct {
	params protocol.CreateTerminalParams
	output string
	status *protocol.TerminalExitStatus
	killed bool
}

// NewFakeClient creates a fake with no capabilities and no scripted tools.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		files:     make(map[string]string),
		terminals: make(map[string]*fakeTerminal),
	}
}

// SetCapabilities scripts the advertised capability set.
func (c *FakeClient) SetCapabilities(caps protocol.ClientCapabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = caps
}

// SetTools scripts a successful live discovery response.
func (c *FakeClient) SetTools(tools []protocol.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.discoveryErr = nil
}

// FailDiscovery scripts ListTools to fail with err.
func (c *FakeClient) FailDiscovery(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoveryErr = err
}

// DiscoveryCalls reports how many times ListTools ran.
func (c *FakeClient) DiscoveryCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoveryCalls
}

// PutFile seeds the in-memory filesystem.
func (c *FakeClient) PutFile(path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = content
}

// QueuePermissionOutcome scripts the next RequestPermission answer.
func (c *FakeClient) QueuePermissionOutcome(outcome protocol.PermissionOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissionQueue = append(c.permissionQueue, outcome)
}

// PermissionRequests returns every permission prompt received so far.
func (c *FakeClient) PermissionRequests() []protocol.RequestPermissionParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.RequestPermissionParams, len(c.permissionReqs))
	copy(out, c.permissionReqs)
	return out
}

// Updates returns every session update received so far, in order.
func (c *FakeClient) Updates() []protocol.SessionUpdateParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.SessionUpdateParams, len(c.updates))
	copy(out, c.updates)
	return out
}

// WrittenFiles returns every write call received so far.
func (c *FakeClient) WrittenFiles() []protocol.WriteTextFileParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.WriteTextFileParams, len(c.writtenFiles))
	copy(out, c.writtenFiles)
	return out
}

func (c *FakeClient) Capabilities() protocol.ClientCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

func (c *FakeClient) ReadTextFile(ctx context.Context, params protocol.ReadTextFileParams) (*protocol.ReadTextFileResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.files[params.Path]
	if !ok {
		return nil, acperrors.FileNotFound(params.Path, nil)
	}
	if params.Line != nil || params.Limit != nil {
		content = sliceLines(content, params.Line, params.Limit)
	}
	return &protocol.ReadTextFileResult{Content: content}, nil
}

func (c *FakeClient) WriteTextFile(ctx context.Context, params protocol.WriteTextFileParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[params.Path] = params.Content
	c.writtenFiles = append(c.writtenFiles, params)
	return nil
}

func (c *FakeClient) RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissionReqs = append(c.permissionReqs, params)
	if len(c.permissionQueue) > 0 {
		outcome := c.permissionQueue[0]
		c.permissionQueue = c.permissionQueue[1:]
		return outcome, nil
	}
	if len(params.Options) == 0 {
		return protocol.PermissionOutcome{Outcome: "cancelled"}, nil
	}
	return protocol.PermissionOutcome{Outcome: "selected", OptionID: params.Options[0].OptionID}, nil
}

// CreateTerminal records the spawn without running anything. Output and
// exit status are scripted via FinishTerminal.
func (c *FakeClient) CreateTerminal(ctx context.Context, params protocol.CreateTerminalParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminalSeq++
	id := fmt.Sprintf("fake-term-%d", c.terminalSeq)
	c.terminals[id] = &fakeTerminal{params: params}
	return id, nil
}

// FinishTerminal scripts a terminal's output and exit code.
func (c *FakeClient) FinishTerminal(id, output string, exitCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if term, ok := c.terminals[id]; ok {
		term.output = output
		term.status = &protocol.TerminalExitStatus{ExitCode: &exitCode}
	}
}

func (c *FakeClient) TerminalOutput(ctx context.Context, params protocol.TerminalOutputParams) (*protocol.TerminalOutputResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	term, ok := c.terminals[params.TerminalID]
	if !ok {
		return nil, acperrors.TerminalNotFound(params.TerminalID)
	}
	return &protocol.TerminalOutputResult{Output: term.output, ExitStatus: term.status}, nil
}

func (c *FakeClient) WaitForExit(ctx context.Context, params protocol.WaitForExitParams) (*protocol.WaitForExitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	term, ok := c.terminals[params.TerminalID]
	if !ok {
		return nil, acperrors.TerminalNotFound(params.TerminalID)
	}
	if term.status == nil {
		zero := 0
		term.status = &protocol.TerminalExitStatus{ExitCode: &zero}
	}
	return &protocol.WaitForExitResult{ExitStatus: *term.status}, nil
}

func (c *FakeClient) ReleaseTerminal(ctx context.Context, params protocol.ReleaseTerminalParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.terminals[params.TerminalID]; !ok {
		return acperrors.TerminalNotFound(params.TerminalID)
	}
	delete(c.terminals, params.TerminalID)
	return nil
}

func (c *FakeClient) KillTerminal(ctx context.Context, params protocol.KillTerminalParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	term, ok := c.terminals[params.TerminalID]
	if !ok {
		return acperrors.TerminalNotFound(params.TerminalID)
	}
	term.killed = true
	delete(c.terminals, params.TerminalID)
	return nil
}

func (c *FakeClient) ListTools(ctx context.Context, sessionID string) ([]protocol.ToolDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoveryCalls++
	if c.discoveryErr != nil {
		return nil, c.discoveryErr
	}
	return c.tools, nil
}

func (c *FakeClient) SessionUpdate(ctx context.Context, params protocol.SessionUpdateParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, params)
}
