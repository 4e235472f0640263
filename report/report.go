package report

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoCauseFrames is returned when a report carries no exception chain at all.
var ErrNoCauseFrames = errors.New("report has no cause frames")

// Report is the inbound exception payload posted by client applications.
// The cause chain is ordered oldest cause last, so the final frame is the
// root cause. A report is never mutated after decoding.
type Report struct {
	CauseFrames []CauseFrame
	Logs        string   // base64-encoded log archive, optional
	Screenshots []string // base64-encoded images, optional
	Extra       map[string]any
}

// CauseFrame is one exception in a chained exception report.
type CauseFrame struct {
	Message string      `json:"message"`
	Lines   []StackLine `json:"stacktrace"`
}

// StackLine is a single frame within a cause's stack trace.
type StackLine struct {
	ClassName    string `json:"className"`
	MethodName   string `json:"methodName"`
	FileName     string `json:"fileName"`
	LineNumber   int    `json:"lineNumber"`
	NativeMethod bool   `json:"nativeMethod"`
}

// UnmarshalJSON decodes the known payload fields and keeps every other
// top-level field in Extra, so client-specific metadata survives into the
// issue details block.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["stacktrace"]; ok {
		if err := json.Unmarshal(v, &r.CauseFrames); err != nil {
			return fmt.Errorf("decode stacktrace field: %w", err)
		}
		delete(raw, "stacktrace")
	}
	if v, ok := raw["logs"]; ok {
		if err := json.Unmarshal(v, &r.Logs); err != nil {
			return fmt.Errorf("decode logs field: %w", err)
		}
		delete(raw, "logs")
	}
	if v, ok := raw["screenshots"]; ok {
		if err := json.Unmarshal(v, &r.Screenshots); err != nil {
			return fmt.Errorf("decode screenshots field: %w", err)
		}
		delete(raw, "screenshots")
	}

	if len(raw) > 0 {
		r.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("decode %s field: %w", k, err)
			}
			r.Extra[k] = val
		}
	}
	return nil
}

// Summary returns the message of the last cause frame, which is the root
// cause of the exception chain.
func (r *Report) Summary() (string, error) {
	if len(r.CauseFrames) == 0 {
		return "", ErrNoCauseFrames
	}
	return r.CauseFrames[len(r.CauseFrames)-1].Message, nil
}

// RenderStacktrace renders the cause chain as a printed stack trace: a
// "Caused by:" header per frame followed by one "\tat ..." line per
// non-native stack line, frames in original order. Pure and deterministic;
// a report with no frames renders as the empty string.
func (r *Report) RenderStacktrace() string {
	var b strings.Builder
	for _, frame := range r.CauseFrames {
		fmt.Fprintf(&b, "Caused by: %s\n", frame.Message)
		for _, line := range frame.Lines {
			if line.NativeMethod {
				continue
			}
			fmt.Fprintf(&b, "\tat %s.%s(%s:%d)\n", line.ClassName, line.MethodName, line.FileName, line.LineNumber)
		}
	}
	return b.String()
}

// Details renders every extra metadata field as an indented "key: value"
// line, sorted by key for deterministic output.
func (r *Report) Details() string {
	if len(r.Extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, r.Extra[k])
	}
	return b.String()
}

// DecodedLogs returns the decoded log archive, or nil when absent.
func (r *Report) DecodedLogs() ([]byte, error) {
	if r.Logs == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.Logs)
	if err != nil {
		return nil, fmt.Errorf("decode log archive: %w", err)
	}
	return data, nil
}

// DecodedScreenshot returns the decoded screenshot at index i.
func (r *Report) DecodedScreenshot(i int) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.Screenshots[i])
	if err != nil {
		return nil, fmt.Errorf("decode screenshot %d: %w", i, err)
	}
	return data, nil
}
