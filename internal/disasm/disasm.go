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

package disasm

import (
	mapset "github.com/deckarep/golang-set"
	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/opcodes"
)

// sentinelOffsets are the fixed offsets the engine treats as plausible
// jump targets even when the sweep never produced a JUMPDEST there; the
// complement of the true jumpdest set within this sentinel set is the
// "invalid jumpdest" set consulted by the engine's DFS.
var sentinelOffsets = []int{0, 2, 7}

// Disassembler performs the one-shot linear sweep over a contract's
// bytecode and owns the resulting instruction table.
type Disassembler struct {
	Bytecode []byte

	byOffset map[int]*Instruction
	byPC     []*Instruction

	Jumpdests        map[int]bool
	InvalidJumpdests map[int]bool

	// Opcodes is the set of opcode bytes present among *live* (non-dead)
	// instructions; the engine's early-exit heuristic consults it.
	Opcodes mapset.Set
}

// New constructs a Disassembler over bytecode. Call Disassemble before use.
func New(bytecode []byte) *Disassembler {
	return &Disassembler{
		Bytecode: bytecode,
		byOffset: make(map[int]*Instruction),
		Opcodes:  mapset.NewSet(),
	}
}

// Disassemble performs the linear sweep described in SPEC_FULL.md §4.1.
func (d *Disassembler) Disassemble() {
	offset, pc := 0, 0
	end := len(d.Bytecode)
	dead := false

	for offset < end {
		op := opcodes.Opcode(d.Bytecode[offset])

		if op == opcodes.JUMPDEST {
			dead = false
		}

		immSize := 0
		if m, ok := opcodes.Table[op]; ok {
			immSize = m.ImmSize
		}

		pushData := d.readPushData(offset+1, immSize, end)

		inst := &Instruction{Offset: offset, PC: pc, Opcode: op, PushData: pushData}
		d.addInstruction(inst, dead)

		if inst.IsHaltOrUnconditionalJumpOp() {
			dead = true
		}

		offset += 1 + immSize
		pc++
	}

	if !dead {
		inst := &Instruction{Offset: offset, PC: pc, Opcode: opcodes.STOP}
		d.addInstruction(inst, dead)
	}

	d.Jumpdests = make(map[int]bool)
	for off, inst := range d.byOffset {
		if inst.Opcode == opcodes.JUMPDEST {
			d.Jumpdests[off] = true
		}
	}
	d.InvalidJumpdests = make(map[int]bool)
	for _, off := range sentinelOffsets {
		if !d.Jumpdests[off] {
			d.InvalidJumpdests[off] = true
		}
	}
}

func (d *Disassembler) addInstruction(inst *Instruction, dead bool) {
	d.byOffset[inst.Offset] = inst
	d.byPC = append(d.byPC, inst)
	if !dead {
		d.Opcodes.Add(inst.Opcode)
	}
}

// AtOffset returns the instruction at a byte offset, if any.
func (d *Disassembler) AtOffset(offset int) (*Instruction, bool) {
	inst, ok := d.byOffset[offset]
	return inst, ok
}

// AtPC returns the instruction at a pc index. It panics on an
// out-of-range pc, which can only happen from a programmer error in the
// engine's pc bookkeeping (a structurally impossible state, see
// SPEC_FULL.md §7).
func (d *Disassembler) AtPC(pc int) *Instruction {
	return d.byPC[pc]
}

// NumInstructions returns the number of instructions in pc order.
func (d *Disassembler) NumInstructions() int { return len(d.byPC) }

func (d *Disassembler) readPushData(offset, size, end int) *uint256.Int {
	if size == 0 {
		return nil
	}
	dataEnd := offset + size
	buf := make([]byte, size)
	if dataEnd <= end {
		copy(buf, d.Bytecode[offset:dataEnd])
	} else if offset < end {
		copy(buf, d.Bytecode[offset:end])
	}
	return new(uint256.Int).SetBytes(buf)
}
