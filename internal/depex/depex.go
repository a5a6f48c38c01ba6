// Package depex implements the dependency-expression evaluator: a tiny
// postfix boolean VM that decides whether a driver's prerequisite
// protocols are all present before the dispatcher loads it. Grounded on
// Platforms/QemuQ35Pkg/Library/UefiDepexLib/src/lib.rs from the reference
// implementation.
package depex

import "github.com/patina-fw/dxecore/internal/guid"

// Opcode is one byte of a dependency expression's instruction stream,
// matching the on-disk encoding of an EFI_DEP_* opcode.
type Opcode byte

const (
	OpBefore      Opcode = 0x00
	OpAfter       Opcode = 0x01
	OpPush        Opcode = 0x02
	OpAnd         Opcode = 0x03
	OpOr          Opcode = 0x04
	OpNot         Opcode = 0x05
	OpTrue        Opcode = 0x06
	OpFalse       Opcode = 0x07
	OpEnd         Opcode = 0x08
	OpSor         Opcode = 0x09
	OpReplaceTrue Opcode = 0xFF
	OpUnknown     Opcode = 0xFE
)

// guidSize is the on-wire width of an EFI_GUID, matching GUID_SIZE in the
// reference implementation.
const guidSize = 16

// Expression is a raw dependency-expression byte stream, exactly as
// carried in a driver's DEPEX section.
type Expression []byte

// instruction is one decoded opcode together with the GUID argument Push
// carries, when present.
type instruction struct {
	op   Opcode
	guid guid.GUID
	have bool
}

// decode reads the opcode at expr[pos], returning it and the byte offset
// of the next opcode. Push consumes a trailing 16-byte GUID when enough
// bytes remain; ReplaceTrue likewise skips a trailing GUID-sized slot
// (an encoding quirk carried over unchanged from the reference, where
// ReplaceTrue rewrites an already-satisfied Push in place without
// shrinking the expression).
func decode(expr Expression, pos int) (instruction, int) {
	op := Opcode(expr[pos])
	next := pos + 1

	switch op {
	case OpPush:
		if pos+1+guidSize <= len(expr) {
			var g guid.GUID
			copy(g[:], expr[pos+1:pos+1+guidSize])
			return instruction{op: OpPush, guid: g, have: true}, pos + 1 + guidSize
		}
		return instruction{op: OpPush}, next
	case OpReplaceTrue:
		if pos+1+guidSize <= len(expr) {
			next = pos + 1 + guidSize
		}
		return instruction{op: OpReplaceTrue}, next
	case OpBefore, OpAfter, OpAnd, OpOr, OpNot, OpTrue, OpFalse, OpEnd, OpSor:
		return instruction{op: op}, next
	default:
		return instruction{op: OpUnknown}, next
	}
}
