package catalog

import (
	"context"
	"encoding/json"

	"github.com/acpkit/acp-go/pkg/bridge"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/utils"
)

// knownTools are the descriptor names with built-in implementations. A
// live-discovered descriptor matching one of these binds to it; anything
// else becomes a generic passthrough back to the client.
var knownTools = map[string]struct{}{
	"read_file":   {},
	"write_file":  {},
	"run_command": {},
	"search":      {},
}

// Resolver produces a catalog for a new session. It always succeeds: a
// failing tier falls through to the next, and the last tier is static.
type Resolver struct {
	logger logging.Logger
	extra  []Entry
}

// NewResolver creates a resolver. Extra descriptors are server-configured
// tools appended to every resolved catalog regardless of tier; on a name
// collision the discovered entry wins.
func NewResolver(logger logging.Logger, extra ...protocol.ToolDescriptor) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Resolver{logger: logger}
	for _, desc := range extra {
		r.extra = append(r.extra, Entry{Descriptor: desc, Source: SourceSynthesized})
	}
	return r
}

// Resolve runs the tier chain once for a session. Callers cache the result
// for the session's lifetime; the decision is never re-made.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, client bridge.Client) *Catalog {
	if cat := r.tryLive(ctx, sessionID, client); cat != nil {
		return r.withExtra(cat)
	}
	if cat := r.tryCapabilities(client.Capabilities()); cat != nil {
		r.logger.Info("tool catalog derived from client capabilities",
			logging.String("session_id", sessionID))
		return r.withExtra(cat)
	}
	r.logger.Info("using static default tool catalog",
		logging.String("session_id", sessionID))
	return r.withExtra(StaticCatalog())
}

// withExtra appends the server-configured tools to a resolved catalog,
// keeping its tier.
func (r *Resolver) withExtra(cat *Catalog) *Catalog {
	if len(r.extra) == 0 {
		return cat
	}
	entries := make([]Entry, 0, len(cat.entries)+len(r.extra))
	entries = append(entries, cat.entries...)
	entries = append(entries, r.extra...)
	return newCatalog(cat.tier, entries)
}

// tryLive asks the client to enumerate its tools. An error or an empty
// list demotes to the next tier.
func (r *Resolver) tryLive(ctx context.Context, sessionID string, client bridge.Client) *Catalog {
	tools, err := client.ListTools(ctx, sessionID)
	if err != nil {
		r.logger.Debug("live tool discovery unavailable",
			logging.String("session_id", sessionID),
			logging.ErrorField(err))
		return nil
	}
	if len(tools) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(tools))
	for _, desc := range tools {
		source := SourcePassthrough
		if _, known := knownTools[desc.Name]; known {
			source = SourceKnown
		}
		entries = append(entries, Entry{Descriptor: desc, Source: source})
	}
	r.logger.Info("tool catalog discovered from client",
		logging.String("session_id", sessionID),
		logging.Int("tools", len(entries)))
	return newCatalog(TierLive, entries)
}

// tryCapabilities synthesizes exactly the tools the advertised structural
// capabilities unlock. No capabilities means no tier-2 catalog.
func (r *Resolver) tryCapabilities(caps protocol.ClientCapabilities) *Catalog {
	if caps.Empty() {
		return nil
	}
	var entries []Entry
	if caps.FS.ReadTextFile {
		entries = append(entries, synthesized("read_file", protocol.ToolKindRead,
			"Read a text file from the client workspace", false))
	}
	if caps.FS.WriteTextFile {
		entries = append(entries, synthesized("write_file", protocol.ToolKindEdit,
			"Write a text file in the client workspace", true))
	}
	if caps.Terminal {
		entries = append(entries, synthesized("run_command", protocol.ToolKindExecute,
			"Run a command in a client terminal", true))
	}
	if len(entries) == 0 {
		return nil
	}
	return newCatalog(TierCapability, entries)
}

// StaticCatalog is the fixed built-in tier-3 catalog, also used directly
// by the degraded shared-configuration mode. Extra descriptors, typically
// from configuration, are appended after the built-ins.
func StaticCatalog(extra ...protocol.ToolDescriptor) *Catalog {
	entries := []Entry{
		synthesized("read_file", protocol.ToolKindRead,
			"Read a text file", false),
		synthesized("write_file", protocol.ToolKindEdit,
			"Write a text file", true),
		synthesized("run_command", protocol.ToolKindExecute,
			"Run a shell command", true),
		synthesized("search", protocol.ToolKindSearch,
			"Search the workspace", false),
	}
	for _, desc := range extra {
		entries = append(entries, Entry{Descriptor: desc, Source: SourceSynthesized})
	}
	return newCatalog(TierStatic, entries)
}

func synthesized(name string, kind protocol.ToolKind, description string, requiresPermission bool) Entry {
	return Entry{
		Descriptor: protocol.ToolDescriptor{
			Name:               name,
			Kind:               kind,
			Description:        description,
			InputSchema:        builtinSchemas[name],
			RequiresPermission: requiresPermission,
		},
		Source: SourceSynthesized,
	}
}

// builtinSchemas are the input schemas for synthesized descriptors. Live
// discovered tools carry their own schemas through unmodified.
var builtinSchemas = map[string]json.RawMessage{
	"read_file": utils.ObjectSchema(map[string]utils.Property{
		"path":  {Type: "string", Description: "File path to read"},
		"line":  {Type: "integer", Description: "One-based first line"},
		"limit": {Type: "integer", Description: "Maximum number of lines"},
	}, "path"),
	"write_file": utils.ObjectSchema(map[string]utils.Property{
		"path":    {Type: "string", Description: "File path to write"},
		"content": {Type: "string", Description: "Full file content"},
	}, "path", "content"),
	"run_command": utils.ObjectSchema(map[string]utils.Property{
		"command": {Type: "string", Description: "Executable to run"},
		"args":    {Type: "array", Description: "Command arguments"},
		"cwd":     {Type: "string", Description: "Working directory"},
	}, "command"),
	"search": utils.ObjectSchema(map[string]utils.Property{
		"query": {Type: "string", Description: "Search query"},
	}, "query"),
}
