package ipc

import "github.com/cryguy/jsbridge/internal/core"

// Message names.
const (
	NameObjectRegistration   = "ObjectRegistrationRequest"
	NameObjectUnregistration = "ObjectUnregistrationRequest"
	NameCallRequest          = "CallRequest"
	NameCallResult           = "CallResult"
	NameEvaluationRequest    = "EvaluationRequest"
	NameEvaluationResponse   = "EvaluationResponse"
	NameUnhandledException   = "UnhandledExceptionNotice"
	NameNavigation           = "NavigationRequest"
	NameContextCreated       = "ContextCreated"
	NameContextReleased      = "ContextReleased"
)

// ObjectRegistrationRequest binds a host object in the renderer. host→script
type ObjectRegistrationRequest struct {
	Object core.ObjectInfo `cbor:"1,keyasint"`
}

func (ObjectRegistrationRequest) MessageName() string { return NameObjectRegistration }

// ObjectUnregistrationRequest removes a bound object. host→script
type ObjectUnregistrationRequest struct {
	Name string `cbor:"1,keyasint"`
}

func (ObjectUnregistrationRequest) MessageName() string { return NameObjectUnregistration }

// CallRequest asks the host to run a bound method. script→host
//
// Arguments is the JSON projection of the encoded argument list.
type CallRequest struct {
	CallID    uint64 `cbor:"1,keyasint"`
	FrameID   string `cbor:"2,keyasint,omitempty"`
	Object    string `cbor:"3,keyasint"`
	Method    string `cbor:"4,keyasint"`
	Arguments []byte `cbor:"5,keyasint,omitempty"`
}

func (CallRequest) MessageName() string { return NameCallRequest }

// CallResult answers a CallRequest. Exactly one of Result or Error is
// meaningful, depending on Success. host→script
type CallResult struct {
	CallID  uint64 `cbor:"1,keyasint"`
	Success bool   `cbor:"2,keyasint"`
	Result  []byte `cbor:"3,keyasint,omitempty"`
	Error   string `cbor:"4,keyasint,omitempty"`
}

func (CallResult) MessageName() string { return NameCallResult }

// EvaluationRequest runs a script in a frame. TaskID 0 asks for no
// response. host→script
type EvaluationRequest struct {
	TaskID  uint64 `cbor:"1,keyasint"`
	FrameID string `cbor:"2,keyasint,omitempty"`
	Script  string `cbor:"3,keyasint"`
	URL     string `cbor:"4,keyasint,omitempty"`
	Line    int    `cbor:"5,keyasint,omitempty"`
}

func (EvaluationRequest) MessageName() string { return NameEvaluationRequest }

// EvaluationResponse answers an EvaluationRequest. Unavailable marks a
// failure caused by the target context being released or unknown.
// script→host
type EvaluationResponse struct {
	TaskID      uint64 `cbor:"1,keyasint"`
	Success     bool   `cbor:"2,keyasint"`
	Result      []byte `cbor:"3,keyasint,omitempty"`
	Error       string `cbor:"4,keyasint,omitempty"`
	Unavailable bool   `cbor:"5,keyasint,omitempty"`
}

func (EvaluationResponse) MessageName() string { return NameEvaluationResponse }

// UnhandledExceptionNotice reports an uncaught script error. script→host
type UnhandledExceptionNotice struct {
	FrameID       string            `cbor:"1,keyasint,omitempty"`
	ExceptionType string            `cbor:"2,keyasint"`
	Message       string            `cbor:"3,keyasint"`
	StackTrace    string            `cbor:"4,keyasint,omitempty"`
	Frames        []core.StackFrame `cbor:"5,keyasint,omitempty"`
}

func (UnhandledExceptionNotice) MessageName() string { return NameUnhandledException }

// NavigationRequest replaces the page. host→script
type NavigationRequest struct {
	URL  string `cbor:"1,keyasint"`
	HTML string `cbor:"2,keyasint,omitempty"`
}

func (NavigationRequest) MessageName() string { return NameNavigation }

// ContextCreated announces a new script context. script→host
type ContextCreated struct {
	FrameID string `cbor:"1,keyasint"`
	IsMain  bool   `cbor:"2,keyasint"`
	URL     string `cbor:"3,keyasint,omitempty"`
}

func (ContextCreated) MessageName() string { return NameContextCreated }

// ContextReleased announces that a context is gone. script→host
type ContextReleased struct {
	FrameID string `cbor:"1,keyasint"`
	IsMain  bool   `cbor:"2,keyasint"`
}

func (ContextReleased) MessageName() string { return NameContextReleased }
