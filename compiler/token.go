package compiler

import (
	"fmt"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operator tokens
// ---------------------------------------------------------------------------

// TokenType identifies an operator between two operands of a sequence.
type TokenType int

const (
	TokenNone TokenType = iota
	TokenAdd
	TokenSubstract
	TokenMultiply
	TokenDivide
	TokenAnd
	TokenOr
	TokenXor
	TokenNot
	TokenGreater
	TokenGreaterEquals
	TokenSmaller
	TokenSmallerEquals
	TokenEquals
	TokenNotEquals
	TokenUnknown
)

var tokenNames = map[TokenType]string{
	TokenNone:          "NONE",
	TokenAdd:           "+",
	TokenSubstract:     "-",
	TokenMultiply:      "*",
	TokenDivide:        "/",
	TokenAnd:           "&",
	TokenOr:            "|",
	TokenXor:           "^",
	TokenNot:           "!",
	TokenGreater:       ">",
	TokenGreaterEquals: ">=",
	TokenSmaller:       "<",
	TokenSmallerEquals: "<=",
	TokenEquals:        "=",
	TokenNotEquals:     "!=",
	TokenUnknown:       "UNKNOWN",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// tokenOps maps binary operator tokens to their opcodes. Not is a prefix and
// has no binary mapping.
var tokenOps = map[TokenType]bytecode.Opcode{
	TokenAdd:           bytecode.OpAdd,
	TokenSubstract:     bytecode.OpSubstract,
	TokenMultiply:      bytecode.OpMultiply,
	TokenDivide:        bytecode.OpDivide,
	TokenAnd:           bytecode.OpAnd,
	TokenOr:            bytecode.OpOr,
	TokenXor:           bytecode.OpXor,
	TokenGreater:       bytecode.OpGreater,
	TokenGreaterEquals: bytecode.OpGreaterEquals,
	TokenSmaller:       bytecode.OpSmaller,
	TokenSmallerEquals: bytecode.OpSmallerEquals,
	TokenEquals:        bytecode.OpEquals,
	TokenNotEquals:     bytecode.OpNotEquals,
}

// Opcode returns the binary opcode a token maps to.
func (t TokenType) Opcode() (bytecode.Opcode, bool) {
	op, ok := tokenOps[t]
	return op, ok
}

// ParseToken returns the token for an operator's text, TokenUnknown if none.
func ParseToken(s string) TokenType {
	for t, name := range tokenNames {
		if name == s && t != TokenNone && t != TokenUnknown {
			return t
		}
	}
	return TokenUnknown
}
