package glue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/jsbridge/internal/core"
)

// payloadGlobal is where StagePayload leaves data for the next glue call.
const payloadGlobal = "__bridge_payload"

// StagePayload hands payload to the glue. Payloads above threshold go
// through the engine's binary transfer when it has one; everything else is
// set as a plain string global.
func StagePayload(rt core.JSRuntime, payload string, threshold int) error {
	if bt, ok := rt.(core.BinaryTransferer); ok && threshold > 0 && len(payload) > threshold {
		return bt.WriteBinaryToJS(payloadGlobal, []byte(payload))
	}
	return rt.SetGlobal(payloadGlobal, payload)
}

func ns(namespace string) string {
	return "globalThis[" + jsString(namespace) + "]"
}

// jsString quotes s as a script string literal. Some Go escapes, such as
// \a and \U, do not exist in script source.
func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// SettleJS completes a pending script call with the staged payload.
func SettleJS(namespace string, id uint64, ok bool) string {
	return fmt.Sprintf("%s.__settle(%s, %t)", ns(namespace), jsString(formatID(id)), ok)
}

// ResolveBindJS completes a pending checkObjectBound.
func ResolveBindJS(namespace string, id uint64, bound bool) string {
	return fmt.Sprintf("%s.__resolveBind(%s, %t)", ns(namespace), jsString(formatID(id)), bound)
}

// MaterializeJS defines the script object for info on the global scope.
func MaterializeJS(namespace string, info core.ObjectInfo) (string, error) {
	methods, err := json.Marshal(info.MethodNames())
	if err != nil {
		return "", fmt.Errorf("encoding method names: %w", err)
	}
	return fmt.Sprintf("%s.__materialize(%s, %s)", ns(namespace), jsString(info.Name), methods), nil
}

// UnbindJS removes a materialized object.
func UnbindJS(namespace, name string) string {
	return fmt.Sprintf("%s.__unbind(%s)", ns(namespace), jsString(name))
}

// EvaluateJS evaluates the staged source. id 0 means nobody waits for the
// result and failures are reported as uncaught.
func EvaluateJS(namespace string, id uint64, url string, line int) string {
	return fmt.Sprintf("%s.__evaluate(%s, %s, %d)", ns(namespace), jsString(formatID(id)), jsString(url), line)
}

// RunJS runs the staged source as a page script.
func RunJS(namespace, url string) string {
	return fmt.Sprintf("%s.__run(%s)", ns(namespace), jsString(url))
}

// Transpile strips TypeScript syntax from sources whose url ends in .ts.
// Other sources are returned unchanged.
func Transpile(src, url string) (string, error) {
	if !strings.HasSuffix(strings.ToLower(url), ".ts") {
		return src, nil
	}
	result := api.Transform(src, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ES2020,
		Sourcefile: url,
	})
	if len(result.Errors) > 0 {
		e := result.Errors[0]
		if e.Location != nil {
			return "", fmt.Errorf("transpiling %s:%d:%d: %s", url, e.Location.Line, e.Location.Column, e.Text)
		}
		return "", fmt.Errorf("transpiling %s: %s", url, e.Text)
	}
	return string(result.Code), nil
}
