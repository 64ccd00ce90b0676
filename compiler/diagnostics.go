package compiler

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ErrorCode identifies a class of compile error. Codes are stable across releases.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	UnmappedToken
	ParameterCount
	VectorSizeMismatch
	DataTypeMismatch
	DuplicateLabel
	UnresolvedLabel
	InvalidJumpDirection
	InvalidJumpSize
	JumpTooFar
	CDataLabelMissing
	IndexerNotSupported
	NestedParameter
	InvalidTarget
	DataSegmentOverflow
	UnsupportedNode
	MissingFunction
	InvalidConstant
	ResolverMismatch
)

var errorCodeNames = map[ErrorCode]string{
	CodeNone:             "none",
	UnmappedToken:        "unmapped-token",
	ParameterCount:       "parameter-count",
	VectorSizeMismatch:   "vector-size-mismatch",
	DataTypeMismatch:     "datatype-mismatch",
	DuplicateLabel:       "duplicate-label",
	UnresolvedLabel:      "unresolved-label",
	InvalidJumpDirection: "invalid-jump-direction",
	InvalidJumpSize:      "invalid-jump-size",
	JumpTooFar:           "jump-too-far",
	CDataLabelMissing:    "cdata-label-missing",
	IndexerNotSupported:  "indexer-not-supported",
	NestedParameter:      "nested-parameter",
	InvalidTarget:        "invalid-target",
	DataSegmentOverflow:  "data-segment-overflow",
	UnsupportedNode:      "unsupported-node",
	MissingFunction:      "missing-function",
	InvalidConstant:      "invalid-constant",
	ResolverMismatch:     "resolver-mismatch",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	Severity Severity
	Code     ErrorCode
	Message  string
	Path     string // node path, empty for resolver messages
}

func (d *Diagnostic) Error() string {
	if d.Path == "" {
		return fmt.Sprintf("%s [%s]: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s] at %s: %s", d.Severity, d.Code, d.Path, d.Message)
}

// Diagnostics collects the messages of one compilation unit. It is not safe
// for concurrent use; parallel units each own one and are merged in order.
type Diagnostics struct {
	items []*Diagnostic
}

// NewDiagnostics returns an empty sink.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func pathOf(n *Node) string {
	if n == nil {
		return ""
	}
	return n.Path()
}

// Errorf records an error at a node; n may be nil.
func (d *Diagnostics) Errorf(code ErrorCode, n *Node, format string, args ...interface{}) {
	d.items = append(d.items, &Diagnostic{
		Severity: SeverityError,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Path:     pathOf(n),
	})
}

// Warnf records a warning at a node; n may be nil.
func (d *Diagnostics) Warnf(n *Node, format string, args ...interface{}) {
	d.items = append(d.items, &Diagnostic{
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Path:     pathOf(n),
	})
}

// Merge appends the messages of other.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other != nil {
		d.items = append(d.items, other.items...)
	}
}

// All returns every message in order.
func (d *Diagnostics) All() []*Diagnostic {
	return d.items
}

// HasErrors reports whether an error was recorded.
func (d *Diagnostics) HasErrors() bool {
	for _, it := range d.items {
		if it.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Has reports whether an error with a code was recorded.
func (d *Diagnostics) Has(code ErrorCode) bool {
	for _, it := range d.items {
		if it.Severity == SeverityError && it.Code == code {
			return true
		}
	}
	return false
}

// Errors returns the error messages.
func (d *Diagnostics) Errors() []*Diagnostic {
	var out []*Diagnostic
	for _, it := range d.items {
		if it.Severity == SeverityError {
			out = append(out, it)
		}
	}
	return out
}

// Warnings returns the warning messages.
func (d *Diagnostics) Warnings() []*Diagnostic {
	var out []*Diagnostic
	for _, it := range d.items {
		if it.Severity == SeverityWarning {
			out = append(out, it)
		}
	}
	return out
}

// Err joins every error into one, nil when there are none.
func (d *Diagnostics) Err() error {
	var errs []error
	for _, it := range d.Errors() {
		errs = append(errs, it)
	}
	return errors.Join(errs...)
}

// Log writes warnings at warning level and errors at error level.
func (d *Diagnostics) Log(log commonlog.Logger) {
	for _, it := range d.items {
		if it.Severity == SeverityError {
			log.Errorf("%s", it.Error())
		} else {
			log.Warningf("%s", it.Error())
		}
	}
}
