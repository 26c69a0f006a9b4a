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

// Package engine drives the two-phase depth-first symbolic execution over
// a disassembled contract, delegating per-instruction state transitions to
// internal/tracker and firing taint-sink checks at CALL and SSTORE.
package engine

import (
	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
	"github.com/probeum/evmtaint/internal/symbolic"
	"github.com/probeum/evmtaint/internal/tracker"
	"github.com/probeum/evmtaint/log"
)

// maxDepth bounds DFS recursion; bytecode whose CFG genuinely nests this
// deep is vanishingly rare and almost always a decompilation artifact or
// adversarial input, so the branch is abandoned rather than explored.
const maxDepth = 800

// ConditionFinding records a JUMPI guard condition derived from a
// block-introspection opcode that dominates a suspicious CALL.
type ConditionFinding struct {
	Step      int
	Condition *symbolic.Value
	Call      *symbolic.Value
}

// CallFinding records a suspicious CALL by its own taint (value sent, or
// destination address).
type CallFinding struct {
	Step int
	Call *symbolic.Value
}

// Engine owns the disassembly, drives the DFS, and accumulates findings
// across both analysis phases.
type Engine struct {
	Bytecode []byte
	Disasm   *disasm.Disassembler
	Tracker  *tracker.Tracker
	Step     int

	Conditions  []ConditionFinding
	CallValues  []CallFinding
	ToAddresses []CallFinding
	TodoKeys    []*symbolic.StoItem

	log log.Logger
}

// New constructs an Engine over bytecode. Call Run to execute it.
func New(bytecode []byte) *Engine {
	return &Engine{
		Bytecode: bytecode,
		Disasm:   disasm.New(bytecode),
		log:      log.New("pkg", "engine"),
	}
}

// Run disassembles the bytecode and performs Phase 1 DFS; if Phase 1
// yields no direct findings but recorded candidate SSTORE keys, it reruns
// as Phase 2 seeded with those keys. It reports whether any finding was
// produced.
func (e *Engine) Run() (bool, error) {
	e.Disasm.Disassemble()
	e.Step = 1

	hasSpecial := opcodes.Special.Intersect(e.Disasm.Opcodes).Cardinality() > 0
	hasTime := opcodes.Time.Intersect(e.Disasm.Opcodes).Cardinality() > 0
	hasMod := opcodes.Mod.Intersect(e.Disasm.Opcodes).Cardinality() > 0
	if !hasSpecial && !(hasTime && hasMod) {
		return false, nil
	}
	if !e.Disasm.Opcodes.Contains(opcodes.CALL) {
		return false, nil
	}

	e.log.Info("phase 1 start")
	t, err := tracker.New(e.Bytecode, e.Disasm, e.Step, nil)
	if err != nil {
		return false, err
	}
	e.Tracker = t
	e.dfs(0, 0, e.Step, nil)
	e.log.Info("phase 1 done",
		"conditions", len(e.Conditions),
		"to_addresses", len(e.ToAddresses),
		"call_values", len(e.CallValues),
		"todo_keys", len(e.TodoKeys))

	if len(e.Conditions) == 0 && len(e.CallValues) == 0 && len(e.ToAddresses) == 0 && len(e.TodoKeys) > 0 {
		e.log.Info("phase 2 start")
		e.Step = 2
		t2, err := tracker.New(e.Bytecode, e.Disasm, e.Step, e.TodoKeys)
		if err != nil {
			return false, err
		}
		e.Tracker = t2
		e.dfs(0, 0, e.Step, nil)
		e.log.Info("phase 2 done",
			"conditions", len(e.Conditions),
			"to_addresses", len(e.ToAddresses),
			"call_values", len(e.CallValues))
	}

	return len(e.Conditions) > 0 || len(e.CallValues) > 0 || len(e.ToAddresses) > 0, nil
}

func (e *Engine) dfs(startOffset, depth, step int, isJumpiTrueBranch *bool) {
	if depth > maxDepth {
		e.log.Warn("call stack too deep", "start_offset", startOffset, "depth", depth)
		return
	}
	if !e.Tracker.UpdateImages(startOffset) {
		e.log.Debug("image already seen", "start_offset", startOffset)
		return
	}

	e.Tracker.State.Path = append(e.Tracker.State.Path, &symbolic.PathItem{
		Offset:            startOffset,
		IsJumpiTrueBranch: isJumpiTrueBranch,
	})

	startInst, ok := e.Disasm.AtOffset(startOffset)
	if !ok {
		e.log.Warn("start offset not disassembled", "offset", startOffset)
		return
	}
	pc := startInst.PC

	for {
		inst := e.Disasm.AtPC(pc)
		if _, known := opcodes.Table[inst.Opcode]; !known {
			e.log.Warn("unknown opcode", "opcode", inst.Opcode)
			return
		}
		pc++

		v, ok := e.Tracker.Update(inst)
		if !ok {
			return
		}

		e.TaintSink(step, v)

		switch inst.Opcode {
		case opcodes.JUMP:
			target, haveTarget := uint64Target(v.StkOperands[0])
			e.followJump(target, haveTarget, depth, step)
			return

		case opcodes.JUMPI:
			target, haveTarget := uint64Target(v.StkOperands[0])
			condition := symbolic.ResolveOrigin(v.StkOperands[1])
			e.Tracker.State.Path[len(e.Tracker.State.Path)-1].Condition = condition

			if !haveTarget || !e.Disasm.InvalidJumpdests[int(target)] {
				if haveTarget && e.Disasm.Jumpdests[int(target)] {
					saved := e.Tracker.State.Clone()
					trueBranch := true
					e.dfs(int(target), depth+1, step, &trueBranch)
					e.Tracker.State = saved
				} else {
					e.warnBadJumpdest(target, haveTarget)
				}
			}

			next := e.Disasm.AtPC(pc)
			if next.Offset != inst.Offset+1 {
				panic("engine: JUMPI fall-through offset mismatch")
			}
			falseBranch := false
			e.dfs(next.Offset, depth+1, step, &falseBranch)
			return

		default:
			if inst.IsHaltOp() {
				return
			}
			if next := e.Disasm.AtPC(pc); next.Opcode == opcodes.JUMPDEST {
				e.dfs(next.Offset, depth+1, step, nil)
				return
			}
		}
	}
}

func (e *Engine) followJump(target uint64, haveTarget bool, depth, step int) {
	if haveTarget && e.Disasm.InvalidJumpdests[int(target)] {
		return
	}
	if haveTarget && e.Disasm.Jumpdests[int(target)] {
		e.dfs(int(target), depth+1, step, nil)
		return
	}
	e.warnBadJumpdest(target, haveTarget)
}

func (e *Engine) warnBadJumpdest(target uint64, haveTarget bool) {
	if haveTarget {
		e.log.Warn("bad jumpdest", "target", target)
	} else {
		e.log.Warn("bad jumpdest: none")
	}
}

func uint64Target(v *symbolic.Value) (uint64, bool) {
	if v.Num == nil || !v.Num.IsUint64() {
		return 0, false
	}
	return v.Num.Uint64(), true
}

// TaintSink evaluates one instruction's Value as a potential finding: a
// CALL whose destination or value traces back to caller/calldata input
// through a block-introspection-tainted path, or (Phase 1 only) an SSTORE
// dominated by such a path, which seeds a Phase 2 candidate key.
func (e *Engine) TaintSink(step int, v *symbolic.Value) {
	inst := v.Inst

	switch {
	case inst.Opcode == opcodes.CALL:
		toOperand := v.StkOperands[1]
		valueOperand := v.StkOperands[2]

		if !inPrecompileRange(toOperand) && isNonzero(valueOperand) {
			toAddress := symbolic.ResolveOrigin(toOperand)

			if toAddress.Taint.Intersect(opcodes.Caller).Cardinality() > 0 {
				path := e.Tracker.State.Path
				for _, item := range path[:len(path)-1] {
					if item.Condition != nil && item.Condition.UseSpecialInst() {
						e.Conditions = append(e.Conditions, ConditionFinding{
							Step: step, Condition: item.Condition, Call: v,
						})
					}
				}
				if valueOperand.UseSpecialInst() {
					e.CallValues = append(e.CallValues, CallFinding{Step: step, Call: v})
				}
			}

			if toAddress.UseSpecialInst() {
				e.ToAddresses = append(e.ToAddresses, CallFinding{Step: step, Call: v})
			}
		}

	case step == 1 && inst.Opcode == opcodes.SSTORE:
		key := symbolic.ResolveOrigin(v.StkOperands[0])
		flag := v.UseSpecialInst()

		path := e.Tracker.State.Path
		for _, item := range path[:len(path)-1] {
			if item.Condition != nil && item.Condition.UseSpecialInst() {
				v.Taint = v.Taint.Union(item.Condition.Taint)
				flag = true
			}
		}

		if flag {
			keyPoly := key.GetPolynomial()
			found := false
			for i := len(e.TodoKeys) - 1; i >= 0; i-- {
				eq, err := e.TodoKeys[i].Key.GetPolynomial().Eq(keyPoly, true)
				if err == nil && eq {
					found = true
					break
				}
			}
			if !found {
				e.TodoKeys = append(e.TodoKeys, &symbolic.StoItem{Key: key, Writer: v})
			}
		}
	}
}

func inPrecompileRange(v *symbolic.Value) bool {
	if v.Num == nil || !v.Num.IsUint64() {
		return false
	}
	n := v.Num.Uint64()
	return n >= 1 && n <= 9
}

func isNonzero(v *symbolic.Value) bool {
	return v.Num == nil || !v.Num.IsZero()
}
