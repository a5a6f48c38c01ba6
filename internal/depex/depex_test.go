package depex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patina-fw/dxecore/internal/guid"
)

var (
	testGUID1 = guid.MustParse("0e896c7a-57dc-4987-bc22-abc3a8263210")
	testGUID2 = guid.MustParse("9c5dca1d-ac0f-46db-9eba-2bc961c711a2")
	testGUID3 = guid.MustParse("d8117cfe-94a6-11d1-9a3a-0090273fc14d")
)

func appendPush(expr Expression, g guid.GUID) Expression {
	expr = append(expr, byte(OpPush))
	return append(expr, g[:]...)
}

func allPresent(present ...guid.GUID) ProtocolPresent {
	set := make(map[guid.GUID]bool, len(present))
	for _, g := range present {
		set[g] = true
	}
	return func(g guid.GUID) bool { return set[g] }
}

func TestEvalSingleProtocolPresent(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	expr = append(expr, byte(OpEnd))

	assert.True(t, Eval(expr, allPresent(testGUID1)))
	assert.False(t, Eval(expr, allPresent(testGUID2)))
}

func TestEvalAndRequiresBothProtocols(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	expr = appendPush(expr, testGUID2)
	expr = append(expr, byte(OpAnd), byte(OpEnd))

	assert.True(t, Eval(expr, allPresent(testGUID1, testGUID2)))
	assert.False(t, Eval(expr, allPresent(testGUID1)))
	assert.False(t, Eval(expr, allPresent(testGUID2)))
}

func TestEvalOrRequiresEitherProtocol(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	expr = appendPush(expr, testGUID2)
	expr = append(expr, byte(OpOr), byte(OpEnd))

	assert.True(t, Eval(expr, allPresent(testGUID1)))
	assert.True(t, Eval(expr, allPresent(testGUID2)))
	assert.False(t, Eval(expr, allPresent()))
}

func TestEvalNotNegatesOperand(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	expr = append(expr, byte(OpNot), byte(OpEnd))

	assert.False(t, Eval(expr, allPresent(testGUID1)))
	assert.True(t, Eval(expr, allPresent()))
}

func TestEvalTrueAndFalseLiterals(t *testing.T) {
	assert.True(t, Eval(Expression{byte(OpTrue), byte(OpEnd)}, allPresent()))
	assert.False(t, Eval(Expression{byte(OpFalse), byte(OpEnd)}, allPresent()))
}

func TestEvalMisplacedBeforeOrAfterReturnsFalse(t *testing.T) {
	assert.False(t, Eval(Expression{byte(OpBefore), byte(OpEnd)}, allPresent()))
	assert.False(t, Eval(Expression{byte(OpAfter), byte(OpEnd)}, allPresent()))
}

func TestEvalUnknownOpcodeReturnsFalse(t *testing.T) {
	assert.False(t, Eval(Expression{0x42, byte(OpEnd)}, allPresent()))
}

func TestEvalReplaceTrueIsUnsupportedAndReturnsFalse(t *testing.T) {
	expr := Expression{byte(OpReplaceTrue)}
	expr = append(expr, testGUID1[:]...)
	expr = append(expr, byte(OpEnd))

	assert.False(t, Eval(expr, allPresent(testGUID1)))
}

func TestEvalSorOnlyValidAtIndexZero(t *testing.T) {
	leading := Expression{byte(OpSor)}
	leading = appendPush(leading, testGUID1)
	leading = append(leading, byte(OpEnd))
	assert.True(t, Eval(leading, allPresent(testGUID1)))

	misplaced := appendPush(nil, testGUID1)
	misplaced = append(misplaced, byte(OpSor), byte(OpEnd))
	assert.False(t, Eval(misplaced, allPresent(testGUID1)))
}

func TestEvalFallingOffTheEndWithoutEndReturnsFalse(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	assert.False(t, Eval(expr, allPresent(testGUID1)))
}

func TestEvalPushWithTruncatedGUIDReturnsFalse(t *testing.T) {
	expr := Expression{byte(OpPush), 0x01, 0x02, byte(OpEnd)}
	assert.False(t, Eval(expr, allPresent()))
}

// TestEvalThreeProtocolAndOrCombination mirrors the TcgMor driver's
// dependency expression from the reference implementation: three
// protocols combined as (G1 AND G2) OR G3, confirming stack-based
// evaluation order across a mixed AND/OR chain.
func TestEvalThreeProtocolAndOrCombination(t *testing.T) {
	expr := appendPush(nil, testGUID1)
	expr = appendPush(expr, testGUID2)
	expr = append(expr, byte(OpAnd))
	expr = appendPush(expr, testGUID3)
	expr = append(expr, byte(OpOr), byte(OpEnd))

	assert.True(t, Eval(expr, allPresent(testGUID1, testGUID2)))
	assert.True(t, Eval(expr, allPresent(testGUID3)))
	assert.False(t, Eval(expr, allPresent(testGUID1)))
	assert.False(t, Eval(expr, allPresent()))
}
