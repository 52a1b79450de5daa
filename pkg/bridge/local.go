package bridge

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// maxTerminalOutput caps the accumulated output retained per terminal.
// Beyond it the oldest bytes are discarded and the result is flagged
// truncated.
const maxTerminalOutput = 1 << 20

// LocalClient serves capability calls from the host directly: files from
// the local filesystem, terminals from the local process table. Permission
// prompts auto-approve the first offered option.
type LocalClient struct {
	logger logging.Logger

	mu        sync.Mutex
	terminals map[string]*localTerminal
}

// NewLocalClient creates a bridge backed by the host.
func NewLocalClient(logger logging.Logger) *LocalClient {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LocalClient{
		logger:    logger,
		terminals: make(map[string]*localTerminal),
	}
}

func (c *LocalClient) Capabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		FS: protocol.FileSystemCapability{
			ReadTextFile:  true,
			WriteTextFile: true,
		},
		Terminal: true,
	}
}

func (c *LocalClient) ReadTextFile(ctx context.Context, params protocol.ReadTextFileParams) (*protocol.ReadTextFileResult, error) {
	data, err := os.ReadFile(params.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, acperrors.FileNotFound(params.Path, err)
		}
		return nil, acperrors.Wrap(err, acperrors.CodeInternalError,
			"Failed to read "+params.Path,
			acperrors.CategoryResource, acperrors.SeverityError)
	}

	content := string(data)
	if params.Line != nil || params.Limit != nil {
		content = sliceLines(content, params.Line, params.Limit)
	}
	return &protocol.ReadTextFileResult{Content: content}, nil
}

// sliceLines applies an optional 1-based start line and an optional line
// count to content.
func sliceLines(content string, line, limit *int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

func (c *LocalClient) WriteTextFile(ctx context.Context, params protocol.WriteTextFileParams) error {
	if err := os.WriteFile(params.Path, []byte(params.Content), 0o644); err != nil {
		return acperrors.Wrap(err, acperrors.CodeInternalError,
			"Failed to write "+params.Path,
			acperrors.CategoryResource, acperrors.SeverityError)
	}
	return nil
}

// RequestPermission auto-approves by selecting the first option. With no
// options to choose from the outcome is cancelled.
func (c *LocalClient) RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error) {
	if len(params.Options) == 0 {
		return protocol.PermissionOutcome{Outcome: "cancelled"}, nil
	}
	chosen := params.Options[0]
	c.logger.Debug("auto-approving permission request",
		logging.String("session_id", params.SessionID),
		logging.String("option_id", chosen.OptionID))
	return protocol.PermissionOutcome{Outcome: "selected", OptionID: chosen.OptionID}, nil
}

// localTerminal is one spawned process and its accumulated output.
type localTerminal struct {
	cmd  *exec.Cmd
	buf  *boundedBuffer
	done chan struct{}

	mu     sync.Mutex
	status *protocol.TerminalExitStatus
}

func (t *localTerminal) exitStatus() *protocol.TerminalExitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (c *LocalClient) CreateTerminal(ctx context.Context, params protocol.CreateTerminalParams) (string, error) {
	cmd := exec.Command(params.Command, params.Args...)
	cmd.Dir = params.Cwd
	if len(params.Env) > 0 {
		env := os.Environ()
		for _, v := range params.Env {
			env = append(env, v.Name+"="+v.Value)
		}
		cmd.Env = env
	}

	term := &localTerminal{
		cmd:  cmd,
		buf:  newBoundedBuffer(maxTerminalOutput),
		done: make(chan struct{}),
	}
	cmd.Stdout = term.buf
	cmd.Stderr = term.buf

	if err := cmd.Start(); err != nil {
		return "", acperrors.Wrap(err, acperrors.CodeInternalError,
			"Failed to start "+params.Command,
			acperrors.CategoryResource, acperrors.SeverityError)
	}

	id := "term_" + uuid.NewString()
	c.mu.Lock()
	c.terminals[id] = term
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		term.mu.Lock()
		term.status = exitStatusFromError(cmd, err)
		term.mu.Unlock()
		close(term.done)
	}()

	c.logger.Debug("terminal created",
		logging.String("terminal_id", id),
		logging.String("command", params.Command))
	return id, nil
}

func exitStatusFromError(cmd *exec.Cmd, err error) *protocol.TerminalExitStatus {
	status := &protocol.TerminalExitStatus{}
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		if code >= 0 {
			status.ExitCode = &code
		} else if err != nil {
			sig := cmd.ProcessState.String()
			status.Signal = &sig
		}
	}
	return status
}

func (c *LocalClient) lookupTerminal(id string) (*localTerminal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	term, ok := c.terminals[id]
	if !ok {
		return nil, acperrors.TerminalNotFound(id)
	}
	return term, nil
}

// TerminalOutput returns everything accumulated so far without blocking.
func (c *LocalClient) TerminalOutput(ctx context.Context, params protocol.TerminalOutputParams) (*protocol.TerminalOutputResult, error) {
	term, err := c.lookupTerminal(params.TerminalID)
	if err != nil {
		return nil, err
	}
	output, truncated := term.buf.Snapshot()
	return &protocol.TerminalOutputResult{
		Output:     output,
		Truncated:  truncated,
		ExitStatus: term.exitStatus(),
	}, nil
}

func (c *LocalClient) WaitForExit(ctx context.Context, params protocol.WaitForExitParams) (*protocol.WaitForExitResult, error) {
	term, err := c.lookupTerminal(params.TerminalID)
	if err != nil {
		return nil, err
	}
	select {
	case <-term.done:
	case <-ctx.Done():
		return nil, acperrors.FromContextError(ctx.Err(), "local", params.TerminalID)
	}
	status := term.exitStatus()
	if status == nil {
		status = &protocol.TerminalExitStatus{}
	}
	return &protocol.WaitForExitResult{ExitStatus: *status}, nil
}

// ReleaseTerminal forgets the handle. The process keeps running.
func (c *LocalClient) ReleaseTerminal(ctx context.Context, params protocol.ReleaseTerminalParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.terminals[params.TerminalID]; !ok {
		return acperrors.TerminalNotFound(params.TerminalID)
	}
	delete(c.terminals, params.TerminalID)
	return nil
}

// KillTerminal forcibly terminates the process and forgets the handle.
func (c *LocalClient) KillTerminal(ctx context.Context, params protocol.KillTerminalParams) error {
	c.mu.Lock()
	term, ok := c.terminals[params.TerminalID]
	if ok {
		delete(c.terminals, params.TerminalID)
	}
	c.mu.Unlock()
	if !ok {
		return acperrors.TerminalNotFound(params.TerminalID)
	}
	if term.cmd.Process != nil {
		_ = term.cmd.Process.Kill()
	}
	return nil
}

// ListTools is unsupported locally; discovery falls through to the next
// tier.
func (c *LocalClient) ListTools(ctx context.Context, sessionID string) ([]protocol.ToolDescriptor, error) {
	return nil, acperrors.MethodNotFound(protocol.MethodListTools)
}

// SessionUpdate has no peer to notify; updates are logged for operators.
func (c *LocalClient) SessionUpdate(ctx context.Context, params protocol.SessionUpdateParams) {
	c.logger.Debug("session update",
		logging.String("session_id", params.SessionID),
		logging.String("kind", string(params.Update.Kind)))
}

// boundedBuffer accumulates process output up to a byte cap, keeping the
// newest bytes.
type boundedBuffer struct {
	mu        sync.Mutex
	data      []byte
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data), b.truncated
}
