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
	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/opcodes"
)

var (
	thirtyTwoConst = uint256.NewInt(0x20)
	thirtyOneConst = uint256.NewInt(0x1F)
)

// FindMemIndex recursively identifies which fmp-indexed free-memory frame
// v names, per SPEC_FULL.md §4.6. It returns -1 when no recognized
// pattern applies.
func (s *State) FindMemIndex(v *Value) int {
	origin := ResolveOrigin(v)
	if origin != v {
		return s.FindMemIndex(origin)
	}

	for i, id := range s.FMPIDs {
		if id == v.ID {
			return i
		}
	}

	switch v.Inst.Opcode {
	case opcodes.ADD, opcodes.AND:
		if len(v.StkOperands) == 2 {
			if idx := s.FindMemIndex(v.StkOperands[0]); idx != -1 {
				return idx
			}
			return s.FindMemIndex(v.StkOperands[1])
		}
	case opcodes.SUB:
		if len(v.StkOperands) != 2 {
			return -1
		}
		x0, x1 := v.StkOperands[0], v.StkOperands[1]
		if x1.Num != nil && x1.Num.Eq(thirtyTwoConst) {
			origin0 := ResolveOrigin(x0)
			for i, id := range s.FMPIDs {
				if id == origin0.ID {
					index := i - 1
					if index < 0 {
						panic("symbolic: FindMemIndex SUB(x,0x20) has no preceding fmp frame")
					}
					curFMP := s.FMPs[index]
					nextFMP := s.FMPs[index+1]
					if nextFMP.Inst.Opcode != opcodes.ADD || len(nextFMP.StkOperands) != 2 {
						panic("symbolic: FindMemIndex expected ADD-shaped successor fmp")
					}
					a := ResolveOrigin(nextFMP.StkOperands[0])
					b := ResolveOrigin(nextFMP.StkOperands[1])
					okA := a.Num != nil && a.Num.Eq(thirtyTwoConst) && b.ID == curFMP.ID
					okB := b.Num != nil && b.Num.Eq(thirtyTwoConst) && a.ID == curFMP.ID
					if !okA && !okB {
						panic("symbolic: FindMemIndex fmp successor shape mismatch")
					}
					return index
				}
			}
		}
		if x0.Inst.Opcode == opcodes.ADD && x1.Inst.Opcode == opcodes.AND &&
			len(x0.StkOperands) == 2 && len(x1.StkOperands) == 2 {
			x00, x01 := x0.StkOperands[0], x0.StkOperands[1]
			x10, x11 := x1.StkOperands[0], x1.StkOperands[1]
			if x10.Num != nil && x10.Num.Eq(thirtyOneConst) && x00.ID == x11.ID {
				return s.FindMemIndex(x01)
			}
		}
	case opcodes.MLOAD:
		if len(v.StkOperands) == 1 {
			return s.FindMemIndex(v.StkOperands[0])
		}
	}
	return -1
}
