package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpkit/acp-go/pkg/auth"
	"github.com/acpkit/acp-go/pkg/bridge"
	"github.com/acpkit/acp-go/pkg/catalog"
	"github.com/acpkit/acp-go/pkg/client"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/transport"
)

// agentFunc adapts a func to the Agent interface.
type agentFunc func(ctx context.Context, turn *Turn) (protocol.StopReason, error)

func (f agentFunc) Prompt(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
	return f(ctx, turn)
}

// helloAgent streams one message and ends the turn.
var helloAgent = agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
	turn.Message(ctx, "Hello back")
	return protocol.StopReasonEndTurn, nil
})

// startPair wires a server and a client over an in-memory pipe.
func startPair(t *testing.T, agent Agent, serverOpts []Option, clientOpts []client.Option) (*client.Client, *Server) {
	t.Helper()
	serverConn, clientConn := transport.Pipe()

	srv := New(agent, serverOpts...)
	go func() { _ = srv.ServeConn(context.Background(), serverConn) }()

	cl := client.New(clientConn, clientOpts...)
	cl.Start(context.Background())
	t.Cleanup(cl.Close)
	return cl, srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScenarioInitializeNewSessionPrompt(t *testing.T) {
	fake := bridge.NewFakeClient()
	cl, _ := startPair(t, helloAgent,
		[]Option{WithInfo(protocol.Implementation{Name: "test-agent", Version: "1.0.0"})},
		[]client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	init, err := cl.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, init.ProtocolVersion)
	assert.Equal(t, "test-agent", init.AgentInfo.Name)
	assert.NotEmpty(t, init.AgentInfo.Version)

	first, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "session ids are never reissued")

	result, err := cl.PromptText(ctx, first, "Hello")
	require.NoError(t, err)
	assert.Equal(t, protocol.StopReasonEndTurn, result.StopReason)

	updates := fake.Updates()
	require.NotEmpty(t, updates, "terminal response must be preceded by session updates")
	for _, u := range updates {
		assert.Equal(t, first, u.SessionID)
	}
}

func TestDiscoveryIdempotence(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetTools([]protocol.ToolDescriptor{{Name: "read_file"}})

	cl, srv := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := cl.PromptText(ctx, sessionID, "again")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fake.DiscoveryCalls(), "discovery runs once per session lifetime")
	st, ok := srv.Registry().Lookup(sessionID)
	require.True(t, ok)
	assert.Equal(t, catalog.TierLive, st.Catalog.Tier())
}

func TestLazySessionSafety(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetTools([]protocol.ToolDescriptor{{Name: "read_file"}})

	cl, srv := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)

	// Prompt against a session id this process never saw a new-session
	// call for.
	result, err := cl.PromptText(ctx, "sess-from-elsewhere", "Hello")
	require.NoError(t, err)
	assert.Equal(t, protocol.StopReasonEndTurn, result.StopReason)
	assert.Equal(t, 1, fake.DiscoveryCalls())

	_, err = cl.PromptText(ctx, "sess-from-elsewhere", "Hello again")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.DiscoveryCalls(), "second prompt must reuse the cache")

	_, ok := srv.Registry().Lookup("sess-from-elsewhere")
	assert.True(t, ok)
}

func TestAgentBackChannelCalls(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.PutFile("/src/main.go", "package main")

	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		result, err := turn.Client().ReadTextFile(ctx, protocol.ReadTextFileParams{
			SessionID: turn.SessionID(), Path: "/src/main.go",
		})
		if err != nil {
			return "", err
		}
		turn.Message(ctx, "read: "+result.Content)
		return protocol.StopReasonEndTurn, nil
	})

	cl, _ := startPair(t, agent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/src")
	require.NoError(t, err)

	result, err := cl.PromptText(ctx, sessionID, "read it")
	require.NoError(t, err)
	assert.Equal(t, protocol.StopReasonEndTurn, result.StopReason)

	updates := fake.Updates()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.NotNil(t, last.Update.Content)
	assert.Equal(t, "read: package main", last.Update.Content.Text)
}

func TestFailedTurnStillReturnsTerminalResponse(t *testing.T) {
	fake := bridge.NewFakeClient()
	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		return "", errors.New("model exploded")
	})

	cl, _ := startPair(t, agent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	result, err := cl.PromptText(ctx, sessionID, "Hello")
	require.NoError(t, err, "a failed turn must not become a wire error")
	assert.Equal(t, protocol.StopReasonRefusal, result.StopReason)

	updates := fake.Updates()
	require.NotEmpty(t, updates, "failure detail arrives as a final update")
	last := updates[len(updates)-1]
	require.NotNil(t, last.Update.Content)
	assert.Contains(t, last.Update.Content.Text, "model exploded")

	// The connection survived.
	_, err = cl.PromptText(ctx, sessionID, "still there?")
	require.NoError(t, err)
}

func TestCancelMidTurn(t *testing.T) {
	running := make(chan struct{})
	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		close(running)
		for {
			if err := turn.Checkpoint(ctx); err != nil {
				return "", err
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	cl, _ := startPair(t, agent, nil, []client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	type promptOutcome struct {
		result *protocol.PromptResult
		err    error
	}
	done := make(chan promptOutcome, 1)
	go func() {
		result, perr := cl.PromptText(ctx, sessionID, "work forever")
		done <- promptOutcome{result, perr}
	}()

	<-running
	cl.Cancel(ctx, sessionID)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, protocol.StopReasonCancelled, out.result.StopReason)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled turn did not produce a terminal response")
	}
}

// stallingBridge blocks permission prompts until its connection dies.
type stallingBridge struct {
	*bridge.FakeClient
	asked chan struct{}
}

func (b *stallingBridge) RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error) {
	close(b.asked)
	<-ctx.Done()
	return protocol.PermissionOutcome{Outcome: "cancelled"}, ctx.Err()
}

func TestDisconnectMidPromptRejectsPendingPermission(t *testing.T) {
	stall := &stallingBridge{FakeClient: bridge.NewFakeClient(), asked: make(chan struct{})}

	turnErr := make(chan error, 1)
	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		call := turn.StartToolCall(ctx, "dangerous thing", protocol.ToolKindExecute)
		_, err := turn.RequestPermission(ctx, call, []protocol.PermissionOption{
			{OptionID: "allow", Kind: protocol.PermissionAllowOnce},
		})
		turnErr <- err
		if err != nil {
			return "", err
		}
		return protocol.StopReasonEndTurn, nil
	})

	cl, srv := startPair(t, agent, nil, []client.Option{client.WithBridge(stall)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	go func() { _, _ = cl.PromptText(ctx, sessionID, "do it") }()

	<-stall.asked
	start := time.Now()
	cl.Close() // kill the connection while the permission request is outstanding

	select {
	case err := <-turnErr:
		require.Error(t, err)
		assert.True(t, acperrors.IsCode(err, acperrors.CodeConnectionLost),
			"pending back-channel call must reject with connection-lost, got %v", err)
		assert.Less(t, time.Since(start), 5*time.Second,
			"rejection must arrive well before the request timeout")
	case <-time.After(10 * time.Second):
		t.Fatal("pending permission request never rejected")
	}

	// The owning connection's sessions are released on disconnect.
	assert.Eventually(t, func() bool {
		_, ok := srv.Registry().Lookup(sessionID)
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

// slowApprovalBridge answers permission prompts after a fixed delay.
type slowApprovalBridge struct {
	*bridge.FakeClient
	delay time.Duration
	asked chan struct{}
}

func (b *slowApprovalBridge) RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error) {
	close(b.asked)
	time.Sleep(b.delay)
	return protocol.PermissionOutcome{Outcome: "selected", OptionID: params.Options[0].OptionID}, nil
}

func TestCancelDoesNotAbortInFlightBackChannelCall(t *testing.T) {
	slow := &slowApprovalBridge{
		FakeClient: bridge.NewFakeClient(),
		delay:      150 * time.Millisecond,
		asked:      make(chan struct{}),
	}

	type permReply struct {
		outcome protocol.PermissionOutcome
		err     error
	}
	permCh := make(chan permReply, 1)
	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		call := turn.StartToolCall(ctx, "guarded thing", protocol.ToolKindExecute)
		outcome, err := turn.RequestPermission(ctx, call, []protocol.PermissionOption{
			{OptionID: "allow", Kind: protocol.PermissionAllowOnce},
		})
		permCh <- permReply{outcome, err}
		if err := turn.Checkpoint(ctx); err != nil {
			return "", err
		}
		return protocol.StopReasonEndTurn, nil
	})

	cl, _ := startPair(t, agent, nil, []client.Option{client.WithBridge(slow)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	type promptOutcome struct {
		result *protocol.PromptResult
		err    error
	}
	done := make(chan promptOutcome, 1)
	go func() {
		result, perr := cl.PromptText(ctx, sessionID, "do it")
		done <- promptOutcome{result, perr}
	}()

	// Cancel while the permission request is still awaiting its reply.
	<-slow.asked
	cl.Cancel(ctx, sessionID)

	perm := <-permCh
	require.NoError(t, perm.err,
		"advisory cancel must not abort an in-flight back-channel call")
	assert.Equal(t, "selected", perm.outcome.Outcome)
	assert.Equal(t, "allow", perm.outcome.OptionID)

	// The agent sees the cancellation at its next checkpoint, after the
	// permission reply landed.
	outcome := <-done
	require.NoError(t, outcome.err)
	assert.Equal(t, protocol.StopReasonCancelled, outcome.result.StopReason)
}

func TestExtraToolsReachSessionCatalog(t *testing.T) {
	fake := bridge.NewFakeClient()
	cl, srv := startPair(t, helloAgent,
		[]Option{WithExtraTools(protocol.ToolDescriptor{
			Name: "deploy", Kind: protocol.ToolKindExecute, RequiresPermission: true,
		})},
		[]client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	st, ok := srv.Registry().Lookup(sessionID)
	require.True(t, ok)
	entry, ok := st.Catalog.Lookup("deploy")
	require.True(t, ok, "configured tools are part of every session catalog")
	assert.True(t, entry.Descriptor.RequiresPermission)
}

func TestDegradedSharedConfigMode(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetTools([]protocol.ToolDescriptor{{Name: "should_not_be_called"}})

	var tier catalog.DiscoveryTier
	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		tier = turn.Catalog().Tier()
		return protocol.StopReasonEndTurn, nil
	})

	cl, srv := startPair(t, agent,
		[]Option{WithSharedCatalog(catalog.StaticCatalog())},
		[]client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	// Degraded mode is structural: no registry exists at all.
	assert.True(t, srv.Degraded())
	assert.Nil(t, srv.Registry())

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	_, err = cl.PromptText(ctx, sessionID, "Hello")
	require.NoError(t, err)
	assert.Equal(t, catalog.TierStatic, tier, "shared catalog is used as-is")
	assert.Equal(t, 0, fake.DiscoveryCalls(), "discovery is skipped entirely")
}

func TestForkInheritsDiscoveryCache(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.SetTools([]protocol.ToolDescriptor{{Name: "read_file"}})

	cl, srv := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	parent, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	forked, err := cl.ForkSession(ctx, parent)
	require.NoError(t, err)
	require.NotEqual(t, parent, forked)
	assert.Equal(t, 1, fake.DiscoveryCalls(), "fork must not re-run discovery")

	parentState, ok := srv.Registry().Lookup(parent)
	require.True(t, ok)
	forkState, ok := srv.Registry().Lookup(forked)
	require.True(t, ok)
	assert.Same(t, parentState.Catalog, forkState.Catalog)
}

func TestForkUnknownSession(t *testing.T) {
	cl, _ := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	_, err = cl.ForkSession(ctx, "sess-none")
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeSessionNotFound))
}

func TestAuthGate(t *testing.T) {
	authn := auth.NewBearerAuthenticator("secret-token")
	cl, _ := startPair(t, helloAgent,
		[]Option{WithAuth(authn, protocol.AuthMethod{ID: "bearer", Name: "Bearer token"})},
		[]client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	init, err := cl.Initialize(ctx)
	require.NoError(t, err)
	require.Len(t, init.AuthMethods, 1)
	assert.Equal(t, "bearer", init.AuthMethods[0].ID)

	_, err = cl.NewSession(ctx, "/tmp")
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeAuthRequired))

	err = cl.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer", Token: "wrong"})
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeAuthFailed))

	require.NoError(t, cl.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer", Token: "secret-token"}))
	_, err = cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)
}

func TestSessionListPagination(t *testing.T) {
	cl, _ := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := cl.NewSession(ctx, "/tmp")
		require.NoError(t, err)
	}

	var all []protocol.SessionInfo
	cursor := ""
	for {
		page, err := cl.ListSessions(ctx, cursor, 2)
		require.NoError(t, err)
		all = append(all, page.Sessions...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, all, 5)
}

func TestSessionConfigOperations(t *testing.T) {
	cl, srv := startPair(t, helloAgent, nil, []client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	require.NoError(t, cl.SetMode(ctx, sessionID, "plan"))
	require.NoError(t, cl.SetModel(ctx, sessionID, "fast-model"))
	require.NoError(t, cl.SetConfigOption(ctx, sessionID, "verbosity", "high"))

	st, ok := srv.Registry().Lookup(sessionID)
	require.True(t, ok)
	assert.Equal(t, "plan", st.Mode())
	assert.Equal(t, "fast-model", st.Model())
	v, ok := st.Option("verbosity")
	require.True(t, ok)
	assert.JSONEq(t, `"high"`, string(v))
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	serverConn, clientConn := transport.Pipe()
	srv := New(helloAgent, WithIdleTimeout(100*time.Millisecond))

	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(context.Background(), serverConn) }()

	cl := client.New(clientConn)
	cl.Start(context.Background())
	defer cl.Close()

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestExtensionMethodDispatch(t *testing.T) {
	cl, _ := startPair(t, extensionAgent{}, nil, []client.Option{client.WithBridge(bridge.NewFakeClient())})
	ctx := testCtx(t)

	raw, err := cl.Call(ctx, "_vendor/echo", map[string]string{"value": "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"echoed":"_vendor/echo"}`, string(raw))

	_, err = cl.Call(ctx, "definitely/not_a_method", nil)
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeMethodNotFound))
}

type extensionAgent struct{}

func (extensionAgent) Prompt(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
	return protocol.StopReasonEndTurn, nil
}

func (extensionAgent) HandleExtension(ctx context.Context, method string, params []byte) (interface{}, error) {
	return map[string]string{"echoed": method}, nil
}

func TestPermissionFlowThroughToolCall(t *testing.T) {
	fake := bridge.NewFakeClient()
	fake.QueuePermissionOutcome(protocol.PermissionOutcome{Outcome: "selected", OptionID: "allow"})

	agent := agentFunc(func(ctx context.Context, turn *Turn) (protocol.StopReason, error) {
		call := turn.StartToolCall(ctx, "write config", protocol.ToolKindEdit)
		outcome, err := turn.RequestPermission(ctx, call, []protocol.PermissionOption{
			{OptionID: "allow", Kind: protocol.PermissionAllowOnce},
			{OptionID: "deny", Kind: protocol.PermissionRejectOnce},
		})
		if err != nil {
			return "", err
		}
		if !outcome.Selected() {
			_ = call.Fail(ctx, "permission denied")
			return protocol.StopReasonRefusal, nil
		}
		if err := call.Begin(ctx); err != nil {
			return "", err
		}
		if err := call.Complete(ctx, protocol.TextBlock("written")); err != nil {
			return "", err
		}
		return protocol.StopReasonEndTurn, nil
	})

	cl, _ := startPair(t, agent, nil, []client.Option{client.WithBridge(fake)})
	ctx := testCtx(t)

	_, err := cl.Initialize(ctx)
	require.NoError(t, err)
	sessionID, err := cl.NewSession(ctx, "/tmp")
	require.NoError(t, err)

	result, err := cl.PromptText(ctx, sessionID, "change my config")
	require.NoError(t, err)
	assert.Equal(t, protocol.StopReasonEndTurn, result.StopReason)

	reqs := fake.PermissionRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, sessionID, reqs[0].SessionID)
	require.Len(t, reqs[0].Options, 2)

	// One notification per status change: pending, in_progress, completed.
	var statuses []protocol.ToolCallStatus
	for _, u := range fake.Updates() {
		if u.Update.ToolCall != nil {
			statuses = append(statuses, u.Update.ToolCall.Status)
		}
	}
	assert.Equal(t, []protocol.ToolCallStatus{
		protocol.ToolCallPending,
		protocol.ToolCallInProgress,
		protocol.ToolCallCompleted,
	}, statuses)
}
