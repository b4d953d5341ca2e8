package vm

// Opcode identifies one of the interpreter's instructions. The set mirrors
// the stack-signature documentation convention used throughout this
// package's Send/Call machinery: each opcode's doc comment states its
// instruction argument and its effect on the data stack using the usual
// ( before -- after ) notation.
type Opcode uint8

const (
	// Nop(), ( -- )
	OpNop Opcode = iota
	// Pop(), ( x -- )
	OpPop
	// Nip(), ( x y -- y )
	OpNip
	// Dup(), ( x -- x x )
	OpDup
	// Nil(), ( -- nil )
	OpNil

	// GetVar(index), ( -- x )
	OpGetVar
	// SetVar(index), ( x -- )
	OpSetVar

	// GetConst(index), ( -- x )
	OpGetConst

	// GetUp(index), ( -- x )
	OpGetUp
	// SetUp(index), ( x -- )
	OpSetUp
	// ResetUp(), ( func -- func' )
	OpResetUp
	// MakeUp(index), ( func -- func )
	OpMakeUp
	// CopyUp(index), ( func -- func )
	OpCopyUp

	// GetProp(), ( obj name -- value )
	OpGetProp
	// SetProp(), ( obj name value -- )
	OpSetProp

	// Call(n), ( func x_1 ... x_n -- y ); n is the instruction argument,
	// not a stack operand
	OpCall
	// Send(), ( obj msg -- result )
	OpSend
	// SendCall(n), ( obj x_1 ... x_n msg -- result ). Send is strictly
	// single-argument on its own — a message with one or more arguments
	// needs its full argument list in hand before the method is looked up
	// and invoked, since a foreign method's Go closure reads every
	// argument from one slice in a single call rather than accepting them
	// one at a time. SendCall folds lookup-and-invoke into one opcode so
	// those arguments never have to round-trip through an intermediate
	// "bound method" value the way Call-of-a-Send's-result would imply.
	OpSendCall

	// Return(), ( x -- )
	OpReturn
	// Jump(addr), ( -- )
	OpJump
	// JumpIf(addr), ( bool -- )
	OpJumpIf
	// JumpUnless(addr), ( bool -- )
	OpJumpUnless

	// Throw(), ( ex -- )
	OpThrow
	// Catch(addr), ( -- )
	OpCatch
	// Uncatch(), ( -- )
	OpUncatch
)

func (op Opcode) String() string {
	switch op {
	case OpNop:
		return "Nop"
	case OpPop:
		return "Pop"
	case OpNip:
		return "Nip"
	case OpDup:
		return "Dup"
	case OpNil:
		return "Nil"
	case OpGetVar:
		return "GetVar"
	case OpSetVar:
		return "SetVar"
	case OpGetConst:
		return "GetConst"
	case OpGetUp:
		return "GetUp"
	case OpSetUp:
		return "SetUp"
	case OpResetUp:
		return "ResetUp"
	case OpMakeUp:
		return "MakeUp"
	case OpCopyUp:
		return "CopyUp"
	case OpGetProp:
		return "GetProp"
	case OpSetProp:
		return "SetProp"
	case OpCall:
		return "Call"
	case OpSend:
		return "Send"
	case OpSendCall:
		return "SendCall"
	case OpReturn:
		return "Return"
	case OpJump:
		return "Jump"
	case OpJumpIf:
		return "JumpIf"
	case OpJumpUnless:
		return "JumpUnless"
	case OpThrow:
		return "Throw"
	case OpCatch:
		return "Catch"
	case OpUncatch:
		return "Uncatch"
	default:
		return "Unknown"
	}
}

// Instruction packs an Opcode with its single 32-bit argument. The original
// bit-packed the op into 5 bits and the argument into 27 within one
// machine word; a Go struct is the idiomatic rendition of the same
// intent — one word's worth of information, addressed by field instead of
// by hand-rolled shifts.
type Instruction struct {
	Op  Opcode
	Arg uint32
}
