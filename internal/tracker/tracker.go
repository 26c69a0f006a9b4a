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

// Package tracker implements the per-instruction abstract transfer
// functions that turn a bare disassembly into the symbolic execution the
// engine's DFS relies on: stack effects, constant folding, free-memory
// aliasing, storage aliasing, and taint propagation.
package tracker

import (
	"bytes"
	"errors"

	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
	"github.com/probeum/evmtaint/internal/symbolic"
	"github.com/probeum/evmtaint/log"
)

// ErrUnsupportedPrologue is returned when the bytecode does not begin with
// one of the two recognized Solidity compiler prologues, from which the
// scratch-memory head's width (3 or 4 slots) is inferred.
var ErrUnsupportedPrologue = errors.New("tracker: unsupported bytecode prologue")

var (
	prologue3 = []byte{0x60, 0x60, 0x60, 0x40, 0x52}
	prologue4 = []byte{0x60, 0x80, 0x60, 0x40, 0x52}
)

var (
	panicOrErrorSelector1 = new(uint256.Int).Lsh(uint256.NewInt(0x4E487B71), 0xE0)
	panicOrErrorSelector2 = new(uint256.Int).Lsh(uint256.NewInt(0x08C379A0), 0xE0)

	fourConst         = uint256.NewInt(0x4)
	thirtyTwoConstVal = uint256.NewInt(0x20)
	sixtyConstVal     = uint256.NewInt(0x60)
	eightyConstVal    = uint256.NewInt(0x80)
)

// Tracker owns one live DFS branch's State and the Arena minting its
// Values, and applies the per-opcode transfer functions in Update.
type Tracker struct {
	Bytecode []byte
	Disasm   *disasm.Disassembler
	State    *symbolic.State
	Arena    *symbolic.Arena

	Images map[int]map[symbolic.Image]bool

	LastCall *symbolic.Value

	log log.Logger
}

// New builds a Tracker over bytecode, inferring the scratch-memory head
// width from the compiler prologue. todoKeys seeds state.Sto for a Phase 2
// rerun; pass nil for Phase 1.
func New(bytecode []byte, d *disasm.Disassembler, step int, todoKeys []*symbolic.StoItem) (*Tracker, error) {
	var memHeadLen int
	switch {
	case bytes.HasPrefix(bytecode, prologue3):
		memHeadLen = 3
	case bytes.HasPrefix(bytecode, prologue4):
		memHeadLen = 4
	default:
		return nil, ErrUnsupportedPrologue
	}

	state := symbolic.NewState(memHeadLen)
	if todoKeys != nil {
		state.Sto = append(state.Sto, todoKeys...)
	}

	return &Tracker{
		Bytecode: bytecode,
		Disasm:   d,
		State:    state,
		Arena:    symbolic.NewArena(step),
		Images:   make(map[int]map[symbolic.Image]bool),
		log:      log.New("pkg", "tracker"),
	}, nil
}

// Update applies the full per-instruction transfer pipeline for inst and
// returns the Value it produced. The second result is false when this
// instruction represents a benign dead-end (e.g. a revert/panic encoding
// written through the scratch head) that the DFS should abandon without
// treating as a finding.
func (t *Tracker) Update(inst *disasm.Instruction) (*symbolic.Value, bool) {
	v := t.Arena.NewValue(inst)
	t.State.Trace = append(t.State.Trace, v)

	t.updateStack(v)
	t.updateCalldataCodeReturndata(v)
	if !t.updateMem(v) {
		return nil, false
	}
	t.updateSto(v)
	t.updateTaint(v)

	if inst.IsCallOp() {
		pushed := *v
		pushed.Num = nil
		pushed.Origin = nil
		t.State.Stack[len(t.State.Stack)-1] = &pushed
		t.LastCall = v
	}

	return v, true
}

func (t *Tracker) updateStack(v *symbolic.Value) {
	inst := v.Inst
	switch {
	case inst.IsPushOp():
		v.Num = inst.PushData.Clone()
		if inst.PushData.IsUint64() {
			if off := int(inst.PushData.Uint64()); t.Disasm.Jumpdests[off] {
				o := off
				v.PushOffset = &o
			}
		}
		t.State.Push(v)

	case inst.IsDupOp():
		n := inst.GetDupArg()
		src := t.State.NthFromTop(n)
		cp := *src
		t.State.Push(&cp)

	case inst.IsSwapOp():
		n := inst.GetSwapArg()
		top := len(t.State.Stack) - 1
		t.State.Stack[top], t.State.Stack[top-n] = t.State.Stack[top-n], t.State.Stack[top]

	default:
		nPops := inst.NPops()
		ops := t.State.PopN(nPops)
		v.StkOperands = ops

		v.Calculate()
		if inst.Opcode == opcodes.CODESIZE {
			v.Num = uint256.NewInt(uint64(len(t.Bytecode)))
		}

		if inst.NPushes() == 1 {
			t.State.Push(v)
		}
	}
}

func (t *Tracker) updateCalldataCodeReturndata(v *symbolic.Value) {
	inst := v.Inst
	switch inst.Opcode {
	case opcodes.CODESIZE:
		v.Num = uint256.NewInt(uint64(len(t.Bytecode)))

	case opcodes.CODECOPY:
		offsetOperand := v.StkOperands[1]
		if symbolic.ResolveOrigin(offsetOperand).Inst.Opcode == opcodes.CODESIZE {
			v.Num = uint256.NewInt(0)
			return
		}
		lengthOperand := v.StkOperands[2]
		if offsetOperand.Num != nil && lengthOperand.Num != nil && offsetOperand.Num.IsUint64() && lengthOperand.Num.IsUint64() {
			start := offsetOperand.Num.Uint64()
			length := lengthOperand.Num.Uint64()
			if start+length > uint64(len(t.Bytecode)) || start > start+length {
				panic("tracker: CODECOPY range exceeds bytecode length")
			}
			v.Num = new(uint256.Int).SetBytes(t.Bytecode[start : start+length])
		}

	case opcodes.RETURNDATASIZE, opcodes.RETURNDATACOPY:
		// no concrete modeling; left unresolved.

	case opcodes.CALLDATACOPY, opcodes.CALLDATALOAD:
		var start *symbolic.Value
		if inst.Opcode == opcodes.CALLDATALOAD {
			start = v.StkOperands[0]
		} else {
			start = v.StkOperands[1]
		}
		if symbolic.ResolveOrigin(start).Inst.Opcode == opcodes.CALLDATASIZE {
			v.Num = uint256.NewInt(0)
		}
	}
}

// updateMem returns false when this instruction is a benign path-ending
// pattern (returndata bubble-up, revert/panic encoding, or a subcall's
// return-size probe) that the DFS should silently abandon.
func (t *Tracker) updateMem(v *symbolic.Value) bool {
	inst := v.Inst

	if inst.Opcode == opcodes.MSIZE {
		v.SetOriginValue(t.State.FMPs[len(t.State.FMPs)-1])
	}

	if !inst.IsMemAccessOp() {
		return true
	}

	if inst.IsMemReadOp() && !isLogOrTerminalReturn(inst.Opcode) {
		start := v.GetMemStart(true)
		length := symbolic.ResolveOrigin(v.GetMemLength(true, t.Arena))

		if length.Num == nil || !length.Num.IsZero() {
			switch {
			case inst.Opcode == opcodes.MLOAD && start.Num != nil && start.Num.IsUint64() &&
				start.Num.Uint64() < uint64(t.State.MemHeadLen)*0x20 && start.Num.Uint64()%0x20 == 0:
				index := start.Num.Uint64() / 0x20
				if t.State.MemHead[index] == nil {
					t.State.MemHead[index] = &symbolic.MemItem{
						Writer: t.Arena.FromValue(uint256.NewInt(0)),
						Start:  t.Arena.FromValue(uint256.NewInt(index)),
						Length: t.Arena.FromValue(uint256.NewInt(32)),
					}
				}
				v.MemOperands = []*symbolic.MemItem{t.State.MemHead[index]}
				v.SetOriginValue(t.State.MemHead[index].Writer)

			case inst.Opcode == opcodes.SHA3 && start.Num != nil && start.Num.IsZero():
				if length.Num == nil || (!length.Num.Eq(uint256.NewInt(0x20)) && !length.Num.Eq(uint256.NewInt(0x40))) {
					panic("tracker: SHA3 over scratch head with unexpected length")
				}
				if length.Num.Eq(uint256.NewInt(0x20)) {
					v.MemOperands = append([]*symbolic.MemItem(nil), t.State.MemHead[:1]...)
				} else {
					v.MemOperands = append([]*symbolic.MemItem(nil), t.State.MemHead[:2]...)
				}

			case t.read60Data(inst, start):
				// recognized but uninterpreted pattern; nothing to record.

			default:
				index := t.State.FindMemIndex(start)
				if index == -1 {
					t.log.Warn("mem index not found", "op", inst.Name(), "offset", inst.Offset)
				} else {
					if inst.Opcode == opcodes.MLOAD {
						for i := len(t.State.Mem[index]) - 1; i >= 0; i-- {
							item := t.State.Mem[index][i]
							sameID := item.Start.ID == start.ID
							sameVal := item.Start.Num != nil && start.Num != nil && item.Start.Num.Eq(start.Num)
							if sameID || sameVal {
								if item.Length.Num != nil && item.Length.Num.Eq(uint256.NewInt(0x20)) {
									v.MemOperands = []*symbolic.MemItem{item}
									v.SetOriginValue(item.Writer)
								}
								break
							}
						}
					} else {
						v.MemOperands = append([]*symbolic.MemItem(nil), t.State.Mem[index]...)
					}

					if inst.IsCallOp() {
						if !(v.StkOperands[1].Num != nil && v.StkOperands[1].Num.Eq(uint256.NewInt(4))) {
							t.State.Mem[index] = nil
						}
					}
				}
			}
		}
	}

	if inst.IsMemWriteOp() {
		if inst.Opcode == opcodes.MSTORE || inst.Opcode == opcodes.MSTORE8 {
			v.SetOriginValue(v.StkOperands[1])
		}

		start := v.GetMemStart(false)
		length := symbolic.ResolveOrigin(v.GetMemLength(false, t.Arena))

		if length.Num == nil || !length.Num.IsZero() {
			switch {
			case start.Num != nil && start.Num.IsUint64() && start.Num.Uint64() < uint64(t.State.MemHeadLen)*0x20:
				if t.returndataBubble(v) || t.revertPanicOrError(v) || t.returnSubcall(v) {
					return false
				}
				okShape := inst.Opcode == opcodes.MSTORE ||
					(inst.Opcode == opcodes.CODECOPY && start.Num.IsZero() && length.Num != nil && length.Num.Eq(uint256.NewInt(0x20)))
				if !okShape {
					panic("tracker: scratch-head write from unexpected opcode shape")
				}
				if start.Num.Uint64()%0x20 != 0 {
					panic("tracker: misaligned scratch-head write")
				}
				index := start.Num.Uint64() / 0x20
				t.State.MemHead[index] = &symbolic.MemItem{
					Writer: v,
					Start:  t.Arena.FromValue(uint256.NewInt(index)),
					Length: t.Arena.FromValue(uint256.NewInt(0x20)),
				}
				if start.Num.Uint64() == 0x40 {
					if inst.Opcode != opcodes.MSTORE {
						panic("tracker: free-memory-pointer write from non-MSTORE opcode")
					}
					fmpOrigin := symbolic.ResolveOrigin(v.StkOperands[1])
					t.State.FMPs = append(t.State.FMPs, fmpOrigin)
					t.State.FMPIDs = append(t.State.FMPIDs, fmpOrigin.ID)
					t.State.Mem = append(t.State.Mem, nil)
				}

			case inst.Opcode == opcodes.MSTORE && v.StkOperands[0].Inst.Opcode == opcodes.MSIZE:
				index := len(t.State.FMPs) - 1
				t.State.Mem[index] = []*symbolic.MemItem{{Writer: v, Start: start, Length: length}}

			default:
				index := t.State.FindMemIndex(start)
				if index == -1 {
					t.log.Warn("mem index not found", "op", inst.Name(), "offset", inst.Offset)
				} else {
					item := &symbolic.MemItem{Writer: v, Start: start, Length: length}
					kept := t.State.Mem[index][:0:0]
					for _, existing := range t.State.Mem[index] {
						if existing.Start.ID == start.ID &&
							existing.Length.Num != nil && length.Num != nil &&
							existing.Length.Num.Cmp(length.Num) <= 0 {
							continue
						}
						kept = append(kept, existing)
					}
					t.State.Mem[index] = append(kept, item)
				}
			}
		}
	}

	return true
}

func isLogOrTerminalReturn(op opcodes.Opcode) bool {
	switch op {
	case opcodes.RETURN, opcodes.REVERT,
		opcodes.LOG0, opcodes.LOG1, opcodes.LOG2, opcodes.LOG3, opcodes.LOG4:
		return true
	}
	return false
}

func (t *Tracker) returndataBubble(v *symbolic.Value) bool {
	if v.Inst.Opcode != opcodes.RETURNDATACOPY {
		return false
	}
	dst, src, length := v.StkOperands[0], v.StkOperands[1], v.StkOperands[2]
	return dst.Num != nil && dst.Num.IsZero() &&
		src.Num != nil && src.Num.IsZero() &&
		symbolic.ResolveOrigin(length).Inst.Opcode == opcodes.RETURNDATASIZE
}

func (t *Tracker) revertPanicOrError(v *symbolic.Value) bool {
	if v.Inst.Opcode != opcodes.MSTORE {
		return false
	}
	if v.StkOperands[0].Num == nil || !v.StkOperands[0].Num.Eq(fourConst) {
		return false
	}
	if t.State.MemHead[0] == nil {
		return false
	}
	mem0 := t.State.MemHead[0].Writer
	if mem0.Inst.Opcode != opcodes.MSTORE {
		return false
	}
	selector := mem0.StkOperands[1].Num
	if selector == nil {
		return false
	}
	return selector.Eq(panicOrErrorSelector1) || selector.Eq(panicOrErrorSelector2)
}

func (t *Tracker) returnSubcall(v *symbolic.Value) bool {
	if v.Inst.Opcode != opcodes.RETURNDATACOPY {
		return false
	}
	ops := v.StkOperands
	return ops[0].Num != nil && ops[0].Num.IsZero() &&
		ops[1].Num != nil && ops[1].Num.IsZero() &&
		ops[2].Num != nil && ops[2].Num.Eq(fourConst)
}

func (t *Tracker) read60Data(inst *disasm.Instruction, start *symbolic.Value) bool {
	if t.State.MemHeadLen != 4 {
		return false
	}
	if inst.Opcode != opcodes.MLOAD {
		return false
	}
	if start.Inst.Opcode != opcodes.ADD {
		return false
	}
	if start.Num == nil || !start.Num.Eq(eightyConstVal) {
		return false
	}
	if len(start.StkOperands) != 2 {
		return false
	}
	a, b := start.StkOperands[0], start.StkOperands[1]
	if a.Num == nil || !a.Num.Eq(thirtyTwoConstVal) {
		return false
	}
	if b.Num == nil || !b.Num.Eq(sixtyConstVal) {
		return false
	}
	if a.Inst.Opcode != opcodes.PUSH1 || b.Inst.Opcode != opcodes.PUSH1 {
		return false
	}
	return true
}

func (t *Tracker) updateSto(v *symbolic.Value) {
	inst := v.Inst
	switch inst.Opcode {
	case opcodes.SLOAD:
		key := symbolic.ResolveOrigin(v.StkOperands[0])
		keyPoly := key.GetPolynomial()
		for i := len(t.State.Sto) - 1; i >= 0; i-- {
			item := t.State.Sto[i]
			eq, err := keyPoly.Eq(item.Key.GetPolynomial(), true)
			if err != nil {
				continue
			}
			if eq {
				v.StoOperands = append(v.StoOperands, item.Writer)
				v.SetOriginValue(item.Writer)
				break
			}
		}

	case opcodes.SSTORE:
		v.SetOriginValue(v.StkOperands[1])
		key := symbolic.ResolveOrigin(v.StkOperands[0])
		t.State.Sto = append(t.State.Sto, &symbolic.StoItem{Key: key, Writer: v})
	}
}

func (t *Tracker) updateTaint(v *symbolic.Value) {
	for _, op := range v.StkOperands {
		v.Taint = v.Taint.Union(op.Taint)
	}
	for _, mi := range v.MemOperands {
		v.Taint = v.Taint.Union(mi.Writer.Taint)
		v.Taint = v.Taint.Union(mi.Start.Taint)
		v.Taint = v.Taint.Union(mi.Length.Taint)
	}
	for _, op := range v.StoOperands {
		v.Taint = v.Taint.Union(op.Taint)
	}

	if v.Inst.IsTaintOp() {
		v.Taint.Add(v.Inst.Opcode)
	} else if opcodes.Mod.Contains(v.Inst.Opcode) && v.Taint.Intersect(opcodes.Time).Cardinality() > 0 {
		v.Taint.Add(opcodes.MODTIME)
	}
}

// UpdateImages records the current stack Image at a basic-block entry
// offset and reports whether it is new (false means this branch has
// already been explored from this entry with an equivalent abstract
// stack, and the DFS should not recurse).
func (t *Tracker) UpdateImages(startOffset int) bool {
	img := symbolic.NewImage(t.State.Stack)
	seen, ok := t.Images[startOffset]
	if !ok {
		seen = make(map[symbolic.Image]bool)
		t.Images[startOffset] = seen
	}
	if seen[img] {
		return false
	}
	seen[img] = true
	return true
}
