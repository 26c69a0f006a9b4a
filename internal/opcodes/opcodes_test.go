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

package opcodes

import "testing"

func TestPushDupSwapHelpers(t *testing.T) {
	tests := []struct {
		op       Opcode
		isPush   bool
		pushSize int
		isDup    bool
		dupN     int
		isSwap   bool
		swapN    int
	}{
		{PUSH1, true, 1, false, 0, false, 0},
		{PUSH32, true, 32, false, 0, false, 0},
		{DUP1, false, 0, true, 1, false, 0},
		{DUP1 + 15, false, 0, true, 16, false, 0},
		{SWAP1, false, 0, false, 0, true, 1},
		{SWAP1 + 15, false, 0, false, 0, true, 16},
		{ADD, false, 0, false, 0, false, 0},
	}

	for _, tt := range tests {
		if got := IsPush(tt.op); got != tt.isPush {
			t.Errorf("IsPush(%#x) = %v, want %v", tt.op, got, tt.isPush)
		}
		if tt.isPush {
			if got := PushSize(tt.op); got != tt.pushSize {
				t.Errorf("PushSize(%#x) = %d, want %d", tt.op, got, tt.pushSize)
			}
		}
		if got := IsDup(tt.op); got != tt.isDup {
			t.Errorf("IsDup(%#x) = %v, want %v", tt.op, got, tt.isDup)
		}
		if tt.isDup {
			if got := DupN(tt.op); got != tt.dupN {
				t.Errorf("DupN(%#x) = %d, want %d", tt.op, got, tt.dupN)
			}
		}
		if got := IsSwap(tt.op); got != tt.isSwap {
			t.Errorf("IsSwap(%#x) = %v, want %v", tt.op, got, tt.isSwap)
		}
		if tt.isSwap {
			if got := SwapN(tt.op); got != tt.swapN {
				t.Errorf("SwapN(%#x) = %d, want %d", tt.op, got, tt.swapN)
			}
		}
	}
}

func TestTableInitPopsAndPushes(t *testing.T) {
	tests := []struct {
		op     Opcode
		pops   int
		pushes int
	}{
		{DUP1, 1, 2},
		{DUP1 + 15, 16, 17},
		{SWAP1, 2, 2},
		{SWAP1 + 15, 17, 17},
		{PUSH1, 0, 1},
	}
	for _, tt := range tests {
		m, ok := Table[tt.op]
		if !ok {
			t.Fatalf("opcode %#x missing from Table", tt.op)
		}
		if m.Pops != tt.pops || m.Pushes != tt.pushes {
			t.Errorf("Table[%#x] = %+v, want pops=%d pushes=%d", tt.op, m, tt.pops, tt.pushes)
		}
	}
}

func TestTaintIsUnionOfSources(t *testing.T) {
	sources := Special.Union(Caller).Union(Time)
	for _, raw := range sources.ToSlice() {
		if !Taint.Contains(raw.(Opcode)) {
			t.Errorf("Taint missing source opcode %v", raw)
		}
	}
	if Taint.Cardinality() != sources.Cardinality() {
		t.Errorf("Taint has unexpected cardinality %d", Taint.Cardinality())
	}
}

func TestIsHaltOrUnconditionalJump(t *testing.T) {
	tests := []struct {
		op   Opcode
		want bool
	}{
		{STOP, true},
		{RETURN, true},
		{REVERT, true},
		{INVALID, true},
		{SELFDESTRUCT, true},
		{JUMP, true},
		{JUMPI, false},
		{ADD, false},
		{Opcode(0x0C), true}, // unassigned byte, no Table entry
	}
	for _, tt := range tests {
		if got := IsHaltOrUnconditionalJump(tt.op); got != tt.want {
			t.Errorf("IsHaltOrUnconditionalJump(%#x) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestNameFallsBackForSyntheticOpcodes(t *testing.T) {
	if Name(MODTIME) != "MODTIME" {
		t.Errorf("Name(MODTIME) = %q", Name(MODTIME))
	}
	if Name(SpecialValue) != "SPECIALVALUE" {
		t.Errorf("Name(SpecialValue) = %q", Name(SpecialValue))
	}
	if Name(Opcode(0x0C)) != "UNKNOWN" {
		t.Errorf("Name(0x0C) = %q", Name(Opcode(0x0C)))
	}
	if Name(ADD) != "ADD" {
		t.Errorf("Name(ADD) = %q", Name(ADD))
	}
}

func TestMemReadWriteDescriptors(t *testing.T) {
	d, ok := MemRead[MLOAD]
	if !ok || d.FixedLen != 32 || d.HasLen {
		t.Errorf("MemRead[MLOAD] = %+v, ok=%v", d, ok)
	}
	d, ok = MemWrite[MSTORE8]
	if !ok || d.FixedLen != 8 || d.HasLen {
		t.Errorf("MemWrite[MSTORE8] = %+v, ok=%v", d, ok)
	}
	d, ok = MemRead[CALL]
	if !ok || !d.HasLen || d.StartIdx != 3 || d.LenIdx != 4 {
		t.Errorf("MemRead[CALL] = %+v, ok=%v", d, ok)
	}
}
