package depex

import "github.com/patina-fw/dxecore/internal/guid"

// ProtocolPresent reports whether protocol g is currently installed on
// some handle. Satisfied by (*protocoldb.Db).LocateProtocol, adapted to
// a bool; kept as a plain function type here so depex never imports
// protocoldb and stays independently testable.
type ProtocolPresent func(g guid.GUID) bool

// Eval walks expr as a postfix boolean expression, substituting each Push
// opcode with present(guid) and interpreting And/Or/Not classically. End
// is the only opcode that returns normally, yielding the top of the
// operand stack; BEFORE, AFTER, REPLACE_TRUE, an out-of-place SOR, a
// Push with a truncated GUID, or any unrecognized opcode aborts the walk
// and returns false, as does falling off the end of expr without ever
// reaching End.
func Eval(expr Expression, present ProtocolPresent) bool {
	var stack []bool

	pop := func() bool {
		if len(stack) == 0 {
			return false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	push := func(v bool) { stack = append(stack, v) }

	pos := 0
	for index := 0; pos < len(expr); index++ {
		insn, nextPos := decode(expr, pos)
		pos = nextPos

		switch insn.op {
		case OpBefore, OpAfter:
			return false
		case OpSor:
			if index != 0 {
				return false
			}
		case OpPush:
			if !insn.have {
				return false
			}
			push(present(insn.guid))
		case OpAnd:
			b, a := pop(), pop()
			push(a && b)
		case OpOr:
			b, a := pop(), pop()
			push(a || b)
		case OpNot:
			push(!pop())
		case OpTrue:
			push(true)
		case OpFalse:
			push(false)
		case OpEnd:
			return pop()
		case OpReplaceTrue, OpUnknown:
			return false
		}
	}
	return false
}
