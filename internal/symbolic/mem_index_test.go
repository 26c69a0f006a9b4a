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

package symbolic

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
)

func TestFindMemIndexDirectMatch(t *testing.T) {
	a := NewArena(1)
	fmp := a.NewValue(&disasm.Instruction{Offset: 0, Opcode: opcodes.PUSH1})

	s := NewState(3)
	s.FMPs = []*Value{fmp}
	s.FMPIDs = []int64{fmp.ID}

	if idx := s.FindMemIndex(fmp); idx != 0 {
		t.Errorf("FindMemIndex(fmp) = %d, want 0", idx)
	}
}

func TestFindMemIndexNoMatch(t *testing.T) {
	s := NewState(3)
	s.FMPs = []*Value{}
	s.FMPIDs = []int64{}

	v := symVal(opcodes.CALLER)
	if idx := s.FindMemIndex(v); idx != -1 {
		t.Errorf("FindMemIndex(unrelated value) = %d, want -1", idx)
	}
}

func TestFindMemIndexAddRecursesIntoOperands(t *testing.T) {
	a := NewArena(1)
	fmp := a.NewValue(&disasm.Instruction{Offset: 0, Opcode: opcodes.PUSH1})

	s := NewState(3)
	s.FMPs = []*Value{fmp}
	s.FMPIDs = []int64{fmp.ID}

	offset := a.FromValue(uint256.NewInt(4))
	v := a.NewValue(&disasm.Instruction{Offset: 10, Opcode: opcodes.ADD})
	v.StkOperands = []*Value{offset, fmp}

	if idx := s.FindMemIndex(v); idx != 0 {
		t.Errorf("FindMemIndex(ADD(offset, fmp)) = %d, want 0", idx)
	}
}

func TestFindMemIndexMloadUnwrapsOperand(t *testing.T) {
	a := NewArena(1)
	fmp := a.NewValue(&disasm.Instruction{Offset: 0, Opcode: opcodes.PUSH1})

	s := NewState(3)
	s.FMPs = []*Value{fmp}
	s.FMPIDs = []int64{fmp.ID}

	v := a.NewValue(&disasm.Instruction{Offset: 10, Opcode: opcodes.MLOAD})
	v.StkOperands = []*Value{fmp}

	if idx := s.FindMemIndex(v); idx != 0 {
		t.Errorf("FindMemIndex(MLOAD(fmp)) = %d, want 0", idx)
	}
}

// TestFindMemIndexSubPreviousFrame exercises the SUB(newFMP, 0x20)
// "previous free-memory frame" pattern: newFMP is registered immediately
// after curFMP and is shaped as ADD(curFMP, 0x20) (in either operand
// order), so SUB(newFMP, 0x20) must resolve back to curFMP's index.
func TestFindMemIndexSubPreviousFrame(t *testing.T) {
	a := NewArena(1)
	curFMP := a.NewValue(&disasm.Instruction{Offset: 0, Opcode: opcodes.PUSH1})
	newFMP := a.NewValue(&disasm.Instruction{Offset: 10, Opcode: opcodes.ADD})
	thirtyTwo := a.FromValue(uint256.NewInt(0x20))
	newFMP.StkOperands = []*Value{thirtyTwo, curFMP}

	s := NewState(3)
	s.FMPs = []*Value{curFMP, newFMP}
	s.FMPIDs = []int64{curFMP.ID, newFMP.ID}

	sub := a.NewValue(&disasm.Instruction{Offset: 20, Opcode: opcodes.SUB})
	sub.StkOperands = []*Value{newFMP, thirtyTwo}

	if idx := s.FindMemIndex(sub); idx != 0 {
		t.Errorf("FindMemIndex(SUB(newFMP, 0x20)) = %d, want 0 (curFMP's index)", idx)
	}
}

func TestFindMemIndexSubWordAlignIdiom(t *testing.T) {
	// SUB(ADD(y, fmp), AND(0x1F, y)) recurses through the ADD/AND shape
	// (keyed off the shared anchor y) and lands on fmp's registered index
	// via the ADD branch's other operand.
	a := NewArena(1)
	fmp := a.NewValue(&disasm.Instruction{Offset: 0, Opcode: opcodes.PUSH1})
	y := a.NewValue(&disasm.Instruction{Offset: 5, Opcode: opcodes.MSIZE})

	s := NewState(3)
	s.FMPs = []*Value{fmp}
	s.FMPIDs = []int64{fmp.ID}

	thirtyOne := a.FromValue(uint256.NewInt(0x1F))

	addPart := a.NewValue(&disasm.Instruction{Offset: 10, Opcode: opcodes.ADD})
	addPart.StkOperands = []*Value{y, fmp}

	andPart := a.NewValue(&disasm.Instruction{Offset: 20, Opcode: opcodes.AND})
	andPart.StkOperands = []*Value{thirtyOne, y}

	sub := a.NewValue(&disasm.Instruction{Offset: 30, Opcode: opcodes.SUB})
	sub.StkOperands = []*Value{addPart, andPart}

	if idx := s.FindMemIndex(sub); idx != 0 {
		t.Errorf("FindMemIndex(word-align idiom) = %d, want 0", idx)
	}
}
