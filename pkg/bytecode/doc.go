// Package bytecode defines the blast instruction set and the compiled package format.
//
// A code stream is a sequence of single-byte opcodes. Bytes 0x00-0x7F are
// opcodes; bytes 0x80-0xFF reference a float in the data segment at
// offset byte-0x80. Expressions are written infix, left to right, with no
// precedence: `operand (op operand)*`, closed by nop at statement level or
// by end inside a begin block.
//
// Jump offsets store a magnitude; the opcode implies the direction. The
// distance is measured from the byte following the offset bytes.
//
// Statement forms:
//
//	assign target <sequence> nop
//	assigns target <operand>
//	assignf target <function> <params>
//	assignfe target <id:u16> <params>
//	assignv target <operand>...
//	<constant> <target|neg>           direct constant assignment
//	<id> <target|neg>                 direct variable assignment
//	jz <off> begin <condition> end    cjz <off> <operand>
//	jump <off>                        jump_back <off>
//	push <operand>                    pushv <n> <operand>...
//	pushf <function> <params>         pushc begin <sequence> end
//	yield                             ret
package bytecode
