// Package bridge carries region snapshots to embedded map renderers and
// carries their commands back.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/developingchet/regionsync/internal/region"
	"github.com/developingchet/regionsync/internal/role"
)

// Renderer entry points invoked by outbound calls.
const (
	FuncUpdate = "updateAllPolygons"
	FuncRole   = "setUserRole"
	FuncNotice = "showNotice"
)

// Inbound command methods.
const (
	MethodReady   = "ready"
	MethodEdit    = "onEdit"
	MethodGetRole = "getRole"
	MethodNotice  = "showNotice"
)

type regionPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Info   string `json:"info"`
}

// EncodeRegions serialises regions as a JSON array escaped for embedding in
// a single-quoted script string literal.
func EncodeRegions(regions []region.Region) (string, error) {
	payload := make([]regionPayload, len(regions))
	for i, r := range regions {
		payload[i] = regionPayload{ID: r.ID, Name: r.Name, Status: r.Status, Info: r.Info}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("encode regions: %w", err)
	}
	return Escape(strings.TrimSuffix(buf.String(), "\n")), nil
}

// DecodeRegions reverses EncodeRegions.
func DecodeRegions(escaped string) ([]region.Region, error) {
	var payload []regionPayload
	if err := json.Unmarshal([]byte(Unescape(escaped)), &payload); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	out := make([]region.Region, len(payload))
	for i, p := range payload {
		out[i] = region.Region{ID: p.ID, Name: p.Name, Status: p.Status, Info: p.Info}
	}
	return out, nil
}

// Escape makes s safe inside a single-quoted string literal. Backslashes are
// escaped before quotes so the added backslashes are not doubled.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UpdateCall wraps an encoded payload in the renderer's update entry point.
func UpdateCall(payload string) string {
	return call(FuncUpdate, payload)
}

// RoleCall tells the renderer which role the user holds.
func RoleCall(r role.Role) string {
	return call(FuncRole, Escape(r.String()))
}

// NoticeCall shows a transient message in the renderer.
func NoticeCall(msg string) string {
	return call(FuncNotice, Escape(msg))
}

func call(fn, arg string) string {
	return fn + "('" + arg + "')"
}

// callKind returns the entry point name of an outbound call.
func callKind(c string) string {
	if i := strings.IndexByte(c, '('); i > 0 {
		return c[:i]
	}
	return "unknown"
}

// Command is one inbound message from a renderer.
type Command struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// EditCommand asks to change one region. Status is passed through as typed
// by the user; normalisation happens when the edit is applied.
type EditCommand struct {
	RegionID string `validate:"required"`
	Status   string `validate:"required"`
	Info     string
}

// CommandError reports an inbound message that could not be understood.
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("invalid renderer command: %s", e.Msg)
}

// DecodeCommand parses a renderer message of the form
// {"method": "...", "args": ["..."]}.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, &CommandError{Msg: err.Error()}
	}
	switch cmd.Method {
	case MethodReady, MethodEdit, MethodGetRole, MethodNotice:
		return cmd, nil
	case "":
		return Command{}, &CommandError{Msg: "missing method"}
	default:
		return Command{}, &CommandError{Msg: fmt.Sprintf("unknown method %q", cmd.Method)}
	}
}

// Edit interprets an onEdit command's arguments as (regionID, status, info).
// Missing arguments are empty.
func (c Command) Edit() EditCommand {
	return EditCommand{
		RegionID: c.arg(0),
		Status:   c.arg(1),
		Info:     c.arg(2),
	}
}

// Message returns the first argument, used by showNotice.
func (c Command) Message() string {
	return c.arg(0)
}

func (c Command) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}
