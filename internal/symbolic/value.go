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

// Package symbolic implements the abstract-interpretation value domain:
// symbolic values (Value), their linear-polynomial algebra (Polynomial),
// and the per-path state (State, MemItem, StoItem, Image) the tracker
// threads through a DFS branch.
package symbolic

import (
	"math/big"

	mapset "github.com/deckarep/golang-set"
	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
)

const (
	// STK, MEM, STO index the three operand kinds tracked on a Value,
	// matching the Python original's tuple indices.
	STK = 0
	MEM = 1
	STO = 2
)

// Value is a symbolic value: the outcome of executing one instruction on
// one DFS path. It is produced and owned by an Arena/State pair and never
// mutated after the tracker finishes processing its instruction, except
// for lazy Origin path-compression (ResolveOrigin).
type Value struct {
	Inst *disasm.Instruction
	Sn   int64
	ID   int64

	Num        *uint256.Int // concrete value, nil if unknown
	Origin     *Value       // alias target; always itself origin-less once set
	PushOffset *int         // set when this Value names a valid JUMPDEST
	Poly       *Polynomial  // memoized on the origin Value

	Taint mapset.Set // set of opcodes.Opcode

	StkOperands []*Value
	MemOperands []*MemItem
	StoOperands []*Value
}

// ResolveOrigin returns the ultimate alias root of v, path-compressing
// along the way. It is idempotent and the chain never cycles (enforced by
// construction: Origin is only ever assigned an already-origin-less
// Value).
func ResolveOrigin(v *Value) *Value {
	if v.Origin == nil {
		return v
	}
	root := v.Origin
	for root.Origin != nil {
		root = root.Origin
	}
	for cur := v; cur.Origin != nil && cur.Origin != root; {
		next := cur.Origin
		cur.Origin = root
		cur = next
	}
	return root
}

// UseSpecialInst reports whether v's taint set intersects the
// block-introspection "special" category.
func (v *Value) UseSpecialInst() bool {
	return v.Taint.Intersect(opcodes.Special).Cardinality() > 0
}

// SetOriginValuePushOffset aliases v to other's origin, also carrying over
// PushOffset so a JUMPDEST-valued PUSH stays recognizable through identity
// folding.
func (v *Value) SetOriginValuePushOffset(other *Value) {
	origin := ResolveOrigin(other)
	v.Origin = origin
	v.Num = origin.Num
	v.PushOffset = origin.PushOffset
}

// SetOriginValue aliases v to other's origin without carrying PushOffset,
// used where the aliasing instruction could never itself be a valid jump
// target (e.g. a storage read's value).
func (v *Value) SetOriginValue(other *Value) {
	origin := ResolveOrigin(other)
	v.Origin = origin
	v.Num = origin.Num
}

// GetMemStart returns the resolved-origin SV for the (start) operand of a
// memory read/write.
func (v *Value) GetMemStart(isRead bool) *Value {
	desc, _ := v.Inst.MemDesc(isRead)
	return ResolveOrigin(v.StkOperands[desc.StartIdx])
}

// GetMemLength returns the SV for the (length) operand, using the
// hard-coded word/byte length for MLOAD/MSTORE/MSTORE8.
func (v *Value) GetMemLength(isRead bool, arena *Arena) *Value {
	switch v.Inst.Opcode {
	case opcodes.MLOAD, opcodes.MSTORE:
		return arena.FromValue(uint256.NewInt(32))
	case opcodes.MSTORE8:
		return arena.FromValue(uint256.NewInt(8))
	}
	desc, _ := v.Inst.MemDesc(isRead)
	return v.StkOperands[desc.LenIdx]
}

// GetPolynomial lazily builds and memoizes v's polynomial per
// SPEC_FULL.md §4.3.
func (v *Value) GetPolynomial() *Polynomial {
	if v.Poly != nil {
		return v.Poly
	}
	if v.Num != nil {
		v.Poly = NewConstPolynomial(v.Num.ToBig())
		return v.Poly
	}

	origin := ResolveOrigin(v)
	if origin.Poly != nil {
		v.Poly = origin.Poly
		return v.Poly
	}

	op := origin.Inst.Opcode
	if op != opcodes.ADD && op != opcodes.SUB {
		var term *big.Int
		if op == opcodes.SHA3 {
			n := big.NewInt(int64(op))
			for _, mi := range origin.MemOperands {
				n.Lsh(n, 257)
				if mi.Writer.Inst.IsPushOp() && mi.Writer.Inst.PushData != nil {
					add := new(big.Int).Lsh(big.NewInt(1), 256)
					add.Add(add, mi.Writer.Inst.PushData.ToBig())
					n.Add(n, add)
				} else {
					n.Add(n, big.NewInt(int64(mi.Writer.Inst.Opcode)))
				}
			}
			term = n
		} else {
			term = big.NewInt(int64(op))
		}
		origin.Poly = NewTermPolynomial(term)
		v.Poly = origin.Poly
		return v.Poly
	}

	aPoly := origin.StkOperands[0].GetPolynomial()
	bPoly := origin.StkOperands[1].GetPolynomial()
	res := aPoly.Copy()
	if op == opcodes.ADD {
		res.Add(bPoly)
	} else {
		res.Sub(bPoly)
	}
	origin.Poly = res
	v.Poly = res
	return v.Poly
}

var twoTo256Big = new(big.Int).Lsh(big.NewInt(1), 256)

func toSigned(v *uint256.Int) *big.Int {
	b := v.ToBig()
	if b.Bit(255) == 1 {
		b.Sub(b, twoTo256Big)
	}
	return b
}

func fromBigWrapped(b *big.Int) *uint256.Int {
	m := new(big.Int).Mod(b, twoTo256Big)
	if m.Sign() < 0 {
		m.Add(m, twoTo256Big)
	}
	u, _ := uint256.FromBig(m)
	return u
}

// Calculate attempts concrete evaluation or identity simplification of v,
// for the purely arithmetic/logical opcode set (SPEC_FULL.md §4.4). It is
// a no-op for any other opcode.
func (v *Value) Calculate() {
	op := v.Inst.Opcode
	if !opcodes.Arithmetic.Contains(op) {
		return
	}

	ops := v.StkOperands
	vals := make([]*uint256.Int, len(ops))
	allConcrete := true
	for i, o := range ops {
		vals[i] = o.Num
		if o.Num == nil {
			allConcrete = false
		}
	}

	if !allConcrete {
		v.calculateIdentities(op, ops, vals)
		return
	}

	var result *uint256.Int // nil means "leave unknown" (SDIV, EXP overflow-shortcut)

	switch op {
	case opcodes.ADD:
		result = fromBigWrapped(new(big.Int).Add(vals[0].ToBig(), vals[1].ToBig()))
	case opcodes.MUL:
		result = fromBigWrapped(new(big.Int).Mul(vals[0].ToBig(), vals[1].ToBig()))
	case opcodes.SUB:
		result = fromBigWrapped(new(big.Int).Sub(vals[0].ToBig(), vals[1].ToBig()))
	case opcodes.DIV:
		if vals[1].IsZero() {
			result = uint256.NewInt(0)
		} else {
			result = fromBigWrapped(new(big.Int).Div(vals[0].ToBig(), vals[1].ToBig()))
		}
	case opcodes.SDIV:
		result = nil // deliberately left unevaluated, see SPEC_FULL.md §4.4
	case opcodes.MOD:
		if vals[1].IsZero() {
			result = uint256.NewInt(0)
		} else {
			result = fromBigWrapped(new(big.Int).Mod(vals[0].ToBig(), vals[1].ToBig()))
		}
	case opcodes.ADDMOD:
		if vals[2].IsZero() {
			result = uint256.NewInt(0)
		} else {
			sum := new(big.Int).Add(vals[0].ToBig(), vals[1].ToBig())
			result = fromBigWrapped(sum.Mod(sum, vals[2].ToBig()))
		}
	case opcodes.MULMOD:
		if vals[2].IsZero() {
			result = uint256.NewInt(0)
		} else {
			prod := new(big.Int).Mul(vals[0].ToBig(), vals[1].ToBig())
			result = fromBigWrapped(prod.Mod(prod, vals[2].ToBig()))
		}
	case opcodes.EXP:
		base, exp := vals[0].ToBig(), vals[1].ToBig()
		if base.Cmp(big.NewInt(2)) >= 0 && exp.Cmp(big.NewInt(512)) >= 0 {
			result = nil // overflow-shortcut, see SPEC_FULL.md §4.4
		} else {
			result = fromBigWrapped(new(big.Int).Exp(base, exp, twoTo256Big))
		}
	case opcodes.LT:
		result = boolUint(vals[0].ToBig().Cmp(vals[1].ToBig()) < 0)
	case opcodes.GT:
		result = boolUint(vals[0].ToBig().Cmp(vals[1].ToBig()) > 0)
	case opcodes.SLT:
		result = boolUint(toSigned(vals[0]).Cmp(toSigned(vals[1])) < 0)
	case opcodes.SGT:
		result = boolUint(toSigned(vals[0]).Cmp(toSigned(vals[1])) > 0)
	case opcodes.EQ:
		result = boolUint(vals[0].Eq(vals[1]))
	case opcodes.ISZERO:
		result = boolUint(vals[0].IsZero())
	case opcodes.AND:
		result = new(uint256.Int).And(vals[0], vals[1])
	case opcodes.OR:
		result = new(uint256.Int).Or(vals[0], vals[1])
	case opcodes.XOR:
		result = new(uint256.Int).Xor(vals[0], vals[1])
	case opcodes.NOT:
		result = new(uint256.Int).Not(vals[0])
	case opcodes.SHL:
		result = fromBigWrapped(new(big.Int).Lsh(vals[1].ToBig(), shiftAmount(vals[0])))
	case opcodes.SHR:
		result = fromBigWrapped(new(big.Int).Rsh(vals[1].ToBig(), shiftAmount(vals[0])))
	case opcodes.SAR:
		result = fromBigWrapped(new(big.Int).Rsh(toSigned(vals[1]), shiftAmount(vals[0])))
	default:
		// SIGNEXTEND, BYTE are arithmetic-category opcodes never modeled
		// by the original tracker's Calculate; left unevaluated.
		return
	}

	v.Num = result

	if result != nil {
		for idx, ov := range vals {
			if ov != nil && ov.Eq(result) {
				v.SetOriginValuePushOffset(ops[idx])
				break
			}
		}
	}
}

func shiftAmount(n *uint256.Int) uint {
	if !n.IsUint64() || n.Uint64() > 1024 {
		return 1024
	}
	return uint(n.Uint64())
}

func boolUint(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return uint256.NewInt(0)
}

func (v *Value) calculateIdentities(op opcodes.Opcode, ops []*Value, vals []*uint256.Int) {
	switch op {
	case opcodes.ADD:
		for i := 0; i < 2; i++ {
			if vals[i] != nil && vals[i].IsZero() {
				v.SetOriginValuePushOffset(ops[1-i])
				return
			}
		}
	case opcodes.SUB:
		if vals[1] != nil && vals[1].IsZero() {
			v.SetOriginValuePushOffset(ops[0])
			return
		}
	case opcodes.MUL:
		for i := 0; i < 2; i++ {
			if vals[i] == nil {
				continue
			}
			switch {
			case vals[i].Eq(uint256.NewInt(1)):
				v.SetOriginValuePushOffset(ops[1-i])
				return
			case vals[i].IsZero():
				v.SetOriginValuePushOffset(zeroConst(v))
				return
			case vals[i].Eq(uint256.NewInt(0x20)):
				// (y+0x1F)/0x20*0x20 round-up-to-word idiom.
				div := ResolveOrigin(ops[1-i])
				if div.Inst.Opcode == opcodes.DIV && len(div.StkOperands) == 2 &&
					div.StkOperands[1].Num != nil && div.StkOperands[1].Num.Eq(uint256.NewInt(0x20)) {
					add := ResolveOrigin(div.StkOperands[0])
					if add.Inst.Opcode == opcodes.ADD && len(add.StkOperands) == 2 {
						for j := 0; j < 2; j++ {
							if add.StkOperands[j].Num != nil && add.StkOperands[j].Num.Eq(uint256.NewInt(0x1F)) {
								origin := ResolveOrigin(add.StkOperands[1-j])
								v.SetOriginValue(origin)
								return
							}
						}
					}
				}
			}
		}
	case opcodes.DIV, opcodes.SDIV:
		if vals[1] != nil && vals[1].Eq(uint256.NewInt(1)) {
			v.SetOriginValuePushOffset(ops[0])
			return
		}
		for _, val := range vals {
			if val != nil && val.IsZero() {
				v.SetOriginValuePushOffset(zeroConst(v))
				return
			}
		}
	case opcodes.AND:
		maxU256 := new(uint256.Int).Not(uint256.NewInt(0))
		addrMask := uint256.NewInt(0)
		addrMask.Lsh(uint256.NewInt(1), 160)
		addrMask.Sub(addrMask, uint256.NewInt(1))

		var origin *Value
		for m := 0; m < 2; m++ {
			if vals[m] == nil {
				continue
			}
			if vals[m].Eq(maxU256) {
				origin = ResolveOrigin(ops[1-m])
				break
			}
			if vals[m].Eq(addrMask) {
				other := ResolveOrigin(ops[1-m])
				switch other.Inst.Opcode {
				case opcodes.ADDRESS, opcodes.CALLER, opcodes.ORIGIN, opcodes.COINBASE:
					origin = other
				default:
					if other.Inst.Opcode == opcodes.AND && len(other.StkOperands) == 2 {
						for n := 0; n < 2; n++ {
							if other.StkOperands[n].Num != nil && other.StkOperands[n].Num.Eq(addrMask) {
								origin = other
								break
							}
						}
					}
				}
				if origin != nil {
					break
				}
			}
		}
		if origin != nil {
			v.SetOriginValuePushOffset(origin)
			return
		}
	}
}

// zeroConst is a helper constructing a zero literal aliased the same way
// the original's InstructionInstance.from_value(0) would via the arena;
// since Calculate has no arena handle, it builds a bare unlinked zero
// Value that is not interned. It only ever feeds SetOriginValuePushOffset,
// which copies its Num/PushOffset and keeps the node as the caller's
// Origin.
func zeroConst(v *Value) *Value {
	return &Value{Inst: v.Inst, Num: uint256.NewInt(0), Taint: mapset.NewSet()}
}
