// Package rterrors defines the two Go error hierarchies the runtime uses
// outside the script-level throw/unwind path: compile-time diagnostics and
// host faults. A runtime script error (a thrown Value caught or propagated
// to the top level) is never represented here — it stays an ordinary Value
// all the way out, per the interpreter's own throw/unwind contract.
package rterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Position is a source location, attached to a CompileError when the AST
// node that produced it carries one. A zero Position (Line == 0) means no
// position was available.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// CompileError is returned, never panicked, by every stage of compilation
// that can fail: declaration resolution, loop-control placement, defer
// validation.
type CompileError struct {
	Pos     Position
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error at %s: %s", e.Pos, e.Message)
}

func NewCompileError(pos Position, format string, args ...any) *CompileError {
	return &CompileError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// HostFault wraps a condition the interpreter considers a defect in the
// embedding host or in the runtime itself — an invalid heap handle
// dereferenced, an opcode argument out of range, a malformed bytecode
// stream — rather than something a script author can catch. It is always
// constructed with errors.WithStack so production logging can recover the
// call chain that led to it.
type HostFault struct {
	cause error
}

func NewHostFault(cause error) *HostFault {
	return &HostFault{cause: errors.WithStack(cause)}
}

func NewHostFaultf(format string, args ...any) *HostFault {
	return &HostFault{cause: errors.WithStack(fmt.Errorf(format, args...))}
}

func (e *HostFault) Error() string {
	return "host fault: " + e.cause.Error()
}

func (e *HostFault) Unwrap() error {
	return e.cause
}
