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
	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"

	"github.com/probeum/evmtaint/internal/disasm"
	"github.com/probeum/evmtaint/internal/opcodes"
)

// constantCacheSize bounds the LRU front-cache for interned constants; a
// miss always falls through to the authoritative map, so this only trades
// a little memory for avoiding full-map churn on bytecode that pushes
// unusually many distinct literals.
const constantCacheSize = 4096

// specialValueInst is the sentinel producing-instruction for interned
// constants, mirroring Instruction.get_special_value in the original.
var specialValueInst = &disasm.Instruction{Offset: 0xFFFFE, PC: 0xFFFFE, Opcode: opcodes.SpecialValue}

// Arena is the per-phase Value factory: it assigns serial numbers and ids,
// and interns constants by value so that arithmetic identities share a
// single Value. It is the explicit handle the design notes call for in
// place of the original's class-level shared tracker pointer.
type Arena struct {
	Step int64

	inst2sn   map[int]int64
	constants map[string]*Value
	cache     *lru.Cache
}

// NewArena constructs a phase-scoped Arena. step is 1 or 2.
func NewArena(step int) *Arena {
	cache, err := lru.New(constantCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which constantCacheSize
		// never is; a failure here is a programmer error.
		panic(err)
	}
	return &Arena{
		Step:      int64(step),
		inst2sn:   make(map[int]int64),
		constants: make(map[string]*Value),
		cache:     cache,
	}
}

// NewValue allocates a fresh Value for one dynamic occurrence of inst.
func (a *Arena) NewValue(inst *disasm.Instruction) *Value {
	sn := a.inst2sn[inst.Offset]
	a.inst2sn[inst.Offset]++
	id := (sn << 24) + (a.Step << 20) + int64(inst.Offset)
	return &Value{
		Inst:  inst,
		Sn:    sn,
		ID:    id,
		Taint: mapset.NewSet(),
	}
}

// FromValue returns the interned constant Value for n, creating it on
// first use.
func (a *Arena) FromValue(n *uint256.Int) *Value {
	key := n.Dec()
	if v, ok := a.cache.Get(key); ok {
		return v.(*Value)
	}
	if v, ok := a.constants[key]; ok {
		a.cache.Add(key, v)
		return v
	}
	v := a.NewValue(specialValueInst)
	v.Num = n.Clone()
	a.constants[key] = v
	a.cache.Add(key, v)
	return v
}
