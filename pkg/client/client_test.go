package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpkit/acp-go/pkg/bridge"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/server"
	"github.com/acpkit/acp-go/pkg/transport"
)

type agentFunc func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error)

func (f agentFunc) Prompt(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
	return f(ctx, turn)
}

func startAgent(t *testing.T, agent server.Agent, opts ...Option) *Client {
	t.Helper()
	serverConn, clientConn := transport.Pipe()

	srv := server.New(agent)
	go func() { _ = srv.ServeConn(context.Background(), serverConn) }()

	cl := New(clientConn, opts...)
	cl.Start(context.Background())
	t.Cleanup(cl.Close)
	return cl
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInitializeAdvertisesBridgeCapabilities(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetCapabilities(protocol.ClientCapabilities{
		FS: protocol.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
	})

	var seen protocol.ClientCapabilities
	agent := agentFunc(func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
		seen = turn.Client().Capabilities()
		return protocol.StopReasonEndTurn, nil
	})

	cl := startAgent(t, agent, WithBridge(fake), WithInfo(protocol.Implementation{Name: "test-editor", Version: "0.1.0"}))
	ctx := testCtx(t)

	init, err := cl.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolVersion, init.ProtocolVersion)

	sessionID, err := cl.NewSession(ctx, "/work")
	require.NoError(t, err)
	_, err = cl.PromptText(ctx, sessionID, "capabilities?")
	require.NoError(t, err)

	assert.True(t, seen.FS.ReadTextFile)
	assert.True(t, seen.FS.WriteTextFile)
	assert.False(t, seen.Terminal)
}

func TestBackChannelFileRoundTrip(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.PutFile("/work/notes.txt", "first draft")

	agent := agentFunc(func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
		read, err := turn.Client().ReadTextFile(ctx, protocol.ReadTextFileParams{
			SessionID: turn.SessionID(), Path: "/work/notes.txt",
		})
		if err != nil {
			return "", err
		}
		err = turn.Client().WriteTextFile(ctx, protocol.WriteTextFileParams{
			SessionID: turn.SessionID(), Path: "/work/notes.txt",
			Content: read.Content + ", revised",
		})
		if err != nil {
			return "", err
		}
		return protocol.StopReasonEndTurn, nil
	})

	cl := startAgent(t, agent, WithBridge(fake))
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/work")
	require.NoError(t, err)
	_, err = cl.PromptText(ctx, sessionID, "revise my notes")
	require.NoError(t, err)

	written := fake.WrittenFiles()
	require.Len(t, written, 1)
	assert.Equal(t, "/work/notes.txt", written[0].Path)
	assert.Equal(t, "first draft, revised", written[0].Content)
	assert.Equal(t, sessionID, written[0].SessionID)
}

func TestBackChannelTerminalLifecycle(t *testing.T) {
	fake := bridge.NewFakeClient()

	agent := agentFunc(func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
		termID, err := turn.Client().CreateTerminal(ctx, protocol.CreateTerminalParams{
			SessionID: turn.SessionID(), Command: "go", Args: []string{"test", "./..."},
		})
		if err != nil {
			return "", err
		}
		fake.FinishTerminal(termID, "ok\n", 0)
		wait, err := turn.Client().WaitForExit(ctx, protocol.WaitForExitParams{
			SessionID: turn.SessionID(), TerminalID: termID,
		})
		if err != nil {
			return "", err
		}
		out, err := turn.Client().TerminalOutput(ctx, protocol.TerminalOutputParams{
			SessionID: turn.SessionID(), TerminalID: termID,
		})
		if err != nil {
			return "", err
		}
		if err := turn.Client().ReleaseTerminal(ctx, protocol.ReleaseTerminalParams{
			SessionID: turn.SessionID(), TerminalID: termID,
		}); err != nil {
			return "", err
		}
		turn.Message(ctx, out.Output)
		if wait.ExitStatus.ExitCode == nil || *wait.ExitStatus.ExitCode != 0 {
			return protocol.StopReasonRefusal, nil
		}
		return protocol.StopReasonEndTurn, nil
	})

	cl := startAgent(t, agent, WithBridge(fake))
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/work")
	require.NoError(t, err)

	result, err := cl.PromptText(ctx, sessionID, "run the tests")
	require.NoError(t, err)
	assert.Equal(t, protocol.StopReasonEndTurn, result.StopReason)

	updates := fake.Updates()
	require.NotEmpty(t, updates)
	assert.Equal(t, "ok\n", updates[len(updates)-1].Update.Content.Text)
}

func TestUpdateHandlerObservesStream(t *testing.T) {
	agent := agentFunc(func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
		turn.Thought(ctx, "thinking about it")
		turn.Message(ctx, "part one")
		turn.Message(ctx, "part two")
		return protocol.StopReasonEndTurn, nil
	})

	var mu sync.Mutex
	var got []protocol.SessionUpdateParams
	cl := startAgent(t, agent,
		WithBridge(bridge.NewFakeClient()),
		WithUpdateHandler(func(params protocol.SessionUpdateParams) {
			mu.Lock()
			got = append(got, params)
			mu.Unlock()
		}))
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/work")
	require.NoError(t, err)
	_, err = cl.PromptText(ctx, sessionID, "Hello")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, protocol.UpdateAgentThoughtChunk, got[0].Update.Kind)
	assert.Equal(t, protocol.UpdateAgentMessageChunk, got[1].Update.Kind)
	assert.Equal(t, "part one", got[1].Update.Content.Text)
	assert.Equal(t, "part two", got[2].Update.Content.Text)
	for _, u := range got {
		assert.Equal(t, sessionID, u.SessionID)
	}
}

func TestResumeSessionAcrossConnections(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetTools([]protocol.ToolDescriptor{{Name: "read_file"}})

	srv := server.New(agentFunc(func(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
		turn.Message(ctx, "hi")
		return protocol.StopReasonEndTurn, nil
	}))

	serverConn, clientConn := transport.Pipe()
	go func() { _ = srv.ServeConn(context.Background(), serverConn) }()
	ctx := testCtx(t)

	first := New(clientConn, WithBridge(fake))
	first.Start(context.Background())
	_, err := first.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := first.NewSession(ctx, "/work")
	require.NoError(t, err)
	first.Close()

	// Resume from a second connection keeps the logical session id.
	// Disconnect released the registry entry, so discovery may run once
	// more for the re-created session, but never per prompt.
	serverConn2, clientConn2 := transport.Pipe()
	go func() { _ = srv.ServeConn(context.Background(), serverConn2) }()

	second := New(clientConn2, WithBridge(fake))
	second.Start(context.Background())
	defer second.Close()

	_, err = second.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, second.ResumeSession(ctx, sessionID))

	_, err = second.PromptText(ctx, sessionID, "still me?")
	require.NoError(t, err)
	calls := fake.DiscoveryCalls()
	assert.LessOrEqual(t, calls, 2)

	_, err = second.PromptText(ctx, sessionID, "and again")
	require.NoError(t, err)
	assert.Equal(t, calls, fake.DiscoveryCalls())
}
