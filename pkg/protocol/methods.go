package protocol

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Agent-facing methods. The slash form is canonical; a flat legacy form
// (e.g. "prompt") is accepted and normalized on ingress.
const (
	MethodInitialize      = "initialize"
	MethodAuthenticate    = "authenticate"
	MethodSessionNew      = "session/new"
	MethodSessionLoad     = "session/load"
	MethodSessionList     = "session/list"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionCancel   = "session/cancel"
	MethodSessionFork     = "session/fork"
	MethodSessionResume   = "session/resume"
	MethodSetMode         = "session/set_mode"
	MethodSetModel        = "session/set_model"
	MethodSetConfigOption = "session/set_config_option"
)

// Client-facing back-channel methods issued by the agent while a prompt is
// in flight.
const (
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
	MethodReadTextFile      = "fs/read_text_file"
	MethodWriteTextFile     = "fs/write_text_file"
	MethodCreateTerminal    = "terminal/create"
	MethodTerminalOutput    = "terminal/output"
	MethodWaitForExit       = "terminal/wait_for_exit"
	MethodReleaseTerminal   = "terminal/release"
	MethodKillTerminal      = "terminal/kill"
	MethodListTools         = "tools/list"
)

// ExtensionPrefix marks namespaced extension methods, which are dispatched
// generically rather than through the canonical method table.
const ExtensionPrefix = "_"

// legacyMethods maps flat legacy method names to their canonical slash form.
var legacyMethods = map[string]string{
	"prompt":            MethodSessionPrompt,
	"cancel":            MethodSessionCancel,
	"new_session":       MethodSessionNew,
	"load_session":      MethodSessionLoad,
	"list_sessions":     MethodSessionList,
	"fork_session":      MethodSessionFork,
	"resume_session":    MethodSessionResume,
	"set_mode":          MethodSetMode,
	"set_model":         MethodSetModel,
	"set_config_option": MethodSetConfigOption,
}

// NormalizeMethod maps a wire method name to its canonical form. Canonical
// and extension methods pass through unchanged; flat legacy aliases are
// rewritten to the slash form.
func NormalizeMethod(method string) string {
	if canonical, ok := legacyMethods[method]; ok {
		return canonical
	}
	return method
}

// IsExtensionMethod reports whether method is a namespaced extension.
func IsExtensionMethod(method string) bool {
	return strings.HasPrefix(method, ExtensionPrefix)
}

// NormalizeParams rewrites camelCase parameter keys to canonical snake_case,
// recursing into nested objects and arrays. Keys already in snake_case, and
// keys that are neither, pass through unchanged, so unrecognized parameters
// survive normalization for forward compatibility. A nil or undecodable
// payload is returned as-is; params validation happens later, per method.
func NormalizeParams(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return params
	}
	var decoded interface{}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return params
	}
	normalized := normalizeValue(decoded)
	out, err := json.Marshal(normalized)
	if err != nil {
		return params
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[CamelToSnake(k)] = normalizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// CamelToSnake converts a camelCase identifier to snake_case. Identifiers
// without upper-case runes are returned unchanged.
func CamelToSnake(s string) string {
	hasUpper := false
	for _, r := range s {
		if unicode.IsUpper(r) {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// Insert a separator at a lower→upper boundary or before the
			// final upper of an acronym run followed by a lower.
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
