package renderer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cryguy/jsbridge/internal/core"
)

// stackLine matches "at fn (file:line:col)", "at file:line:col" and the
// QuickJS form without a column.
var stackLine = regexp.MustCompile(`at (?:(.+?) \()?(.+?):(\d+)(?::(\d+))?\)?$`)

func parseStack(stack string) []core.StackFrame {
	var frames []core.StackFrame
	for _, line := range strings.Split(stack, "\n") {
		m := stackLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		f := core.StackFrame{FunctionName: m[1], ScriptName: m[2]}
		f.Line, _ = strconv.Atoi(m[3])
		if m[4] != "" {
			f.Column, _ = strconv.Atoi(m[4])
		}
		frames = append(frames, f)
	}
	return frames
}
