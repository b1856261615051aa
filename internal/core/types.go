package core

// MethodInfo describes one script-visible method of a bound object.
type MethodInfo struct {
	Name            string `cbor:"1,keyasint"`
	MandatoryParams int    `cbor:"2,keyasint,omitempty"`
}

// ObjectInfo is the registration record of a bound object.
type ObjectInfo struct {
	Name    string       `cbor:"1,keyasint"`
	Methods []MethodInfo `cbor:"2,keyasint"`
}

// MethodNames returns the method names in registration order.
func (o ObjectInfo) MethodNames() []string {
	names := make([]string, len(o.Methods))
	for i, m := range o.Methods {
		names[i] = m.Name
	}
	return names
}

// StackFrame is one frame of a script exception stack.
type StackFrame struct {
	FunctionName string `cbor:"1,keyasint,omitempty"`
	ScriptName   string `cbor:"2,keyasint,omitempty"`
	Line         int    `cbor:"3,keyasint,omitempty"`
	Column       int    `cbor:"4,keyasint,omitempty"`
}

// ExceptionInfo is an uncaught script exception.
type ExceptionInfo struct {
	FrameID       string
	ExceptionType string
	Message       string
	StackTrace    string
	Frames        []StackFrame
}

// ContextInfo identifies a script context on the host side.
type ContextInfo struct {
	FrameID string
	IsMain  bool
	URL     string
}
