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

package tracker

import (
	"errors"
	"testing"

	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
	"github.com/probeum/evmtaint/internal/symbolic"
)

var prologue3Bytes = []byte{0x60, 0x60, 0x60, 0x40, 0x52}

func TestNewRejectsUnrecognizedPrologue(t *testing.T) {
	bytecode := []byte{0x00, 0x00, 0x00, 0x00, 0x00}
	d := disasm.New(bytecode)
	d.Disassemble()

	_, err := New(bytecode, d, 1, nil)
	if !errors.Is(err, ErrUnsupportedPrologue) {
		t.Fatalf("New() err = %v, want ErrUnsupportedPrologue", err)
	}
}

func TestNewInfersMemHeadLenFromPrologue(t *testing.T) {
	bytecode := append(append([]byte{}, prologue3Bytes...), 0x00)
	d := disasm.New(bytecode)
	d.Disassemble()

	tr, err := New(bytecode, d, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	if tr.State.MemHeadLen != 3 {
		t.Errorf("MemHeadLen = %d, want 3", tr.State.MemHeadLen)
	}

	bytecode4 := append(append([]byte{}, []byte{0x60, 0x80, 0x60, 0x40, 0x52}...), 0x00)
	d4 := disasm.New(bytecode4)
	d4.Disassemble()
	tr4, err := New(bytecode4, d4, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	if tr4.State.MemHeadLen != 4 {
		t.Errorf("MemHeadLen = %d, want 4", tr4.State.MemHeadLen)
	}
}

// PUSH1 5 PUSH1 3 ADD STOP after the standard prologue.
func TestUpdateConcreteAddThroughPrologue(t *testing.T) {
	bytecode := append(append([]byte{}, prologue3Bytes...),
		0x60, 0x05, 0x60, 0x03, 0x01, 0x00)
	d := disasm.New(bytecode)
	d.Disassemble()
	tr, err := New(bytecode, d, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	var addValue *symbolic.Value
	for pc := 0; pc < d.NumInstructions(); pc++ {
		inst := d.AtPC(pc)
		v, ok := tr.Update(inst)
		if !ok {
			t.Fatalf("Update aborted at pc=%d (%s)", pc, inst.Name())
		}
		if inst.Opcode == opcodes.ADD {
			addValue = v
		}
	}

	if addValue == nil || addValue.Num == nil || addValue.Num.Uint64() != 8 {
		t.Fatalf("ADD result = %v, want 8", addValue)
	}
	if len(tr.State.FMPs) != 1 {
		t.Fatalf("prologue MSTORE should have registered one fmp frame, got %d", len(tr.State.FMPs))
	}
}

// TIMESTAMP PUSH1 5 MOD should fold a MODTIME taint marker onto the MOD
// result, since it folds a time-derived operand.
func TestUpdateTaintFoldsModtime(t *testing.T) {
	bytecode := append(append([]byte{}, prologue3Bytes...),
		0x42, 0x60, 0x05, 0x06, 0x00) // TIMESTAMP PUSH1 5 MOD STOP
	d := disasm.New(bytecode)
	d.Disassemble()
	tr, err := New(bytecode, d, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	var modValue *symbolic.Value
	for pc := 0; pc < d.NumInstructions(); pc++ {
		inst := d.AtPC(pc)
		v, ok := tr.Update(inst)
		if !ok {
			t.Fatalf("Update aborted at pc=%d (%s)", pc, inst.Name())
		}
		if inst.Opcode == opcodes.MOD {
			modValue = v
		}
	}

	if modValue == nil || !modValue.Taint.Contains(opcodes.MODTIME) {
		t.Fatalf("MOD result taint = %v, want it to contain MODTIME", modValue.Taint)
	}
}

// PUSH1 9 PUSH1 7 SSTORE ; PUSH1 7 SLOAD must alias the SLOAD's value back
// to the SSTORE's stored value, since both target the same concrete key.
func TestUpdateStoAliasesMatchingKey(t *testing.T) {
	bytecode := append(append([]byte{}, prologue3Bytes...),
		0x60, 0x09, 0x60, 0x07, 0x55, // PUSH1 9 PUSH1 7 SSTORE
		0x60, 0x07, 0x54, // PUSH1 7 SLOAD
		0x00)
	d := disasm.New(bytecode)
	d.Disassemble()
	tr, err := New(bytecode, d, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	var sloadValue *symbolic.Value
	for pc := 0; pc < d.NumInstructions(); pc++ {
		inst := d.AtPC(pc)
		v, ok := tr.Update(inst)
		if !ok {
			t.Fatalf("Update aborted at pc=%d (%s)", pc, inst.Name())
		}
		if inst.Opcode == opcodes.SLOAD {
			sloadValue = v
		}
	}

	if sloadValue == nil || sloadValue.Num == nil || sloadValue.Num.Uint64() != 9 {
		t.Fatalf("SLOAD result = %v, want the stored value 9", sloadValue)
	}
}

func TestUpdateImagesDedupesSameStackShape(t *testing.T) {
	bytecode := append(append([]byte{}, prologue3Bytes...), 0x00)
	d := disasm.New(bytecode)
	d.Disassemble()
	tr, err := New(bytecode, d, 1, nil)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	if !tr.UpdateImages(10) {
		t.Fatalf("first visit to offset 10 should be new")
	}
	if tr.UpdateImages(10) {
		t.Fatalf("second visit with the same stack shape should be a repeat")
	}
	if !tr.UpdateImages(20) {
		t.Fatalf("first visit to a different offset should be new")
	}
}
