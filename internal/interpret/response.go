// Package interpret turns the model's reply into a Response. Parsing never
// fails: malformed replies degrade to a low-confidence informational answer
// carrying the raw text.
package interpret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Mode is the user's intent as classified by the model.
type Mode string

const (
	ModeInfo   Mode = "info"
	ModeAction Mode = "action"
)

// ActionType refines an action reply.
type ActionType string

const (
	ActionNone    ActionType = ""
	ActionCommand ActionType = "command"
	ActionCamera  ActionType = "camera"
)

// Confidence is the model's self-reported confidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Response is the structured reply of the assistant.
type Response struct {
	Question   string     `json:"question"`
	Response   string     `json:"response"`
	Piece      string     `json:"piece"`
	ID         string     `json:"id"`
	Mode       Mode       `json:"mode"`
	Confidence Confidence `json:"confidence"`
	ActionType ActionType `json:"type action"`

	// Raw and Error are set only when the reply could not be decoded.
	Raw   string `json:"raw,omitempty"`
	Error string `json:"error,omitempty"`
}

// Diagnostic describes how a Response was obtained.
type Diagnostic struct {
	Fallback bool
	Reason   string
}

// Diagnostic reports whether the fallback record was used and why.
func (r Response) Diagnostic() Diagnostic {
	return Diagnostic{Fallback: r.Error != "", Reason: r.Error}
}

// Defaults returns the template every reply is merged over.
func Defaults() Response {
	return Response{Mode: ModeInfo, Confidence: ConfidenceMedium}
}

var (
	errEmpty     = errors.New("réponse JSON vide")
	errNotObject = errors.New("la réponse n'est pas un objet JSON")
)

// Parse decodes a model reply. It always returns a fully populated Response.
func Parse(raw string) Response {
	text := StripFences(raw)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON value")
	}
	if err != nil {
		return fallback(text, fmt.Errorf("JSON invalide: %w", err))
	}
	if v == nil {
		return fallback(text, errEmpty)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return fallback(text, errNotObject)
	}
	return FromMap(obj)
}

func fallback(text string, err error) Response {
	slog.Debug("model reply is not valid JSON", "error", err, "raw", truncate(text, 500))
	r := Defaults()
	r.Response = text
	r.Confidence = ConfidenceLow
	r.Raw = text
	r.Error = err.Error()
	return r
}

// FromMap merges an already decoded object over the defaults. Absent and
// null fields keep their default.
func FromMap(m map[string]any) Response {
	r := Defaults()
	set := func(key string, dst *string) {
		if v, ok := m[key]; ok && v != nil {
			*dst = stringify(v)
		}
	}
	set("question", &r.Question)
	set("response", &r.Response)
	set("piece", &r.Piece)
	set("id", &r.ID)

	mode, confidence, actionType := string(r.Mode), string(r.Confidence), string(r.ActionType)
	set("mode", &mode)
	set("confidence", &confidence)
	set("type action", &actionType)
	r.Mode = Mode(mode)
	r.Confidence = Confidence(confidence)
	r.ActionType = ActionType(actionType)
	return r
}

// StripFences removes a leading ```json (or ```) fence and a trailing ```.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimLeft(s, " \t\r\n")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimRight(strings.TrimSuffix(s, "```"), " \t\r\n")
	}
	return s
}

// stringify renders a decoded JSON value as the string field value.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ",")
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSpace(buf.String())
	}
}

// formatNumber keeps integers as written and renders floats without an
// exponent.
func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
