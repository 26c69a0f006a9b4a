// Copyright 2024 The evmtaint Authors
// This file is part of the evmtaint library.
//
// The evmtaint library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtaint library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtaint library. If not, see <http://www.gnu.org/licenses/>.

// Package disasm turns raw EVM bytecode into a dense instruction table via a
// linear byte sweep, and collects the set of valid JUMPDEST offsets the
// engine treats as legal branch targets.
package disasm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/opcodes"
)

// Instruction is one disassembled program unit. It is immutable once
// produced by Disassemble.
type Instruction struct {
	Offset   int
	PC       int
	Opcode   opcodes.Opcode
	PushData *uint256.Int // non-nil only for PUSH1..PUSH32
}

// IsHaltOp reports whether the opcode is unknown (has no metadata) or a
// halting opcode (STOP/RETURN/REVERT/INVALID/SELFDESTRUCT).
func (i *Instruction) IsHaltOp() bool {
	if _, ok := opcodes.Table[i.Opcode]; !ok {
		return true
	}
	return opcodes.Halt.Contains(i.Opcode)
}

// IsPushOp reports whether the opcode is PUSH1..PUSH32.
func (i *Instruction) IsPushOp() bool { return opcodes.IsPush(i.Opcode) }

// IsDupOp reports whether the opcode is DUP1..DUP16.
func (i *Instruction) IsDupOp() bool { return opcodes.IsDup(i.Opcode) }

// IsSwapOp reports whether the opcode is SWAP1..SWAP16.
func (i *Instruction) IsSwapOp() bool { return opcodes.IsSwap(i.Opcode) }

// IsHaltOrUnconditionalJumpOp reports whether straight-line execution
// cannot continue past this instruction.
func (i *Instruction) IsHaltOrUnconditionalJumpOp() bool {
	return i.IsHaltOp() || i.Opcode == opcodes.JUMP
}

// IsArithmeticOp reports whether Calculate handles this opcode.
func (i *Instruction) IsArithmeticOp() bool { return opcodes.Arithmetic.Contains(i.Opcode) }

// IsMemReadOp reports whether the opcode reads memory.
func (i *Instruction) IsMemReadOp() bool { _, ok := opcodes.MemRead[i.Opcode]; return ok }

// IsMemWriteOp reports whether the opcode writes memory.
func (i *Instruction) IsMemWriteOp() bool { _, ok := opcodes.MemWrite[i.Opcode]; return ok }

// IsMemAccessOp reports whether the opcode reads or writes memory.
func (i *Instruction) IsMemAccessOp() bool { return i.IsMemReadOp() || i.IsMemWriteOp() }

// IsCallOp reports whether the opcode is one of the four call opcodes.
func (i *Instruction) IsCallOp() bool { return opcodes.Call.Contains(i.Opcode) }

// IsCommutativeOp reports whether the opcode is commutative.
func (i *Instruction) IsCommutativeOp() bool { return opcodes.Commutative.Contains(i.Opcode) }

// IsTaintOp reports whether the opcode itself is a taint source.
func (i *Instruction) IsTaintOp() bool { return opcodes.Taint.Contains(i.Opcode) }

// NPops returns the number of stack items this opcode pops, 0 if unknown.
func (i *Instruction) NPops() int {
	if m, ok := opcodes.Table[i.Opcode]; ok {
		return m.Pops
	}
	return 0
}

// NPushes returns the number of stack items this opcode pushes, 0 if unknown.
func (i *Instruction) NPushes() int {
	if m, ok := opcodes.Table[i.Opcode]; ok {
		return m.Pushes
	}
	return 0
}

// GetPushArg returns the PUSH immediate size (1..32), or -1 if not a PUSH.
func (i *Instruction) GetPushArg() int {
	if !i.IsPushOp() {
		return -1
	}
	return opcodes.PushSize(i.Opcode)
}

// GetDupArg returns n for DUPn, or -1 if not a DUP.
func (i *Instruction) GetDupArg() int {
	if !i.IsDupOp() {
		return -1
	}
	return opcodes.DupN(i.Opcode)
}

// GetSwapArg returns n for SWAPn, or -1 if not a SWAP.
func (i *Instruction) GetSwapArg() int {
	if !i.IsSwapOp() {
		return -1
	}
	return opcodes.SwapN(i.Opcode)
}

// MemDesc returns the memory-access descriptor for a read or write.
func (i *Instruction) MemDesc(isRead bool) (opcodes.MemDesc, bool) {
	if isRead {
		d, ok := opcodes.MemRead[i.Opcode]
		return d, ok
	}
	d, ok := opcodes.MemWrite[i.Opcode]
	return d, ok
}

// Name returns the opcode's display name.
func (i *Instruction) Name() string { return opcodes.Name(i.Opcode) }

func (i *Instruction) String() string {
	if i.PushData != nil {
		return fmt.Sprintf("%05x %s %s", i.Offset, i.Name(), i.PushData.Hex())
	}
	return fmt.Sprintf("%05x %s", i.Offset, i.Name())
}
