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
	"sort"
	"strconv"
	"strings"

	"github.com/probeum/evmtaint/internal/opcodes"
)

// MemItem is one recorded write within a free-memory arena: the value
// that produced the write, and the symbolic (start, length) it targeted.
type MemItem struct {
	Writer *Value
	Start  *Value
	Length *Value
}

// StoItem is one storage slot write (or a Phase 2 seed entry): a symbolic
// key and the value stored there.
type StoItem struct {
	Key    *Value
	Writer *Value
}

// PathItem records one visited basic-block entry on the active DFS path.
type PathItem struct {
	Offset            int
	Condition         *Value
	IsJumpiTrueBranch *bool
}

// State is the full symbolic state of one live DFS branch: stack, the
// fixed scratch/fmp memory head, the free-memory arenas, storage log,
// visited-offset path, and instruction trace.
type State struct {
	Stack []*Value

	MemHeadLen int
	MemHead    []*MemItem

	FMPs   []*Value
	FMPIDs []int64

	Mem [][]*MemItem

	Sto []*StoItem

	Path  []*PathItem
	Trace []*Value
}

// NewState builds an empty State with a memHeadLen-slot scratch head.
func NewState(memHeadLen int) *State {
	return &State{
		MemHeadLen: memHeadLen,
		MemHead:    make([]*MemItem, memHeadLen),
	}
}

// Clone duplicates the slice headers of every field so that appends on
// one branch never observe or clobber another branch's state. The Values,
// MemItems, and StoItems pointed to are shared and never mutated after
// creation, matching SPEC_FULL.md §5.
func (s *State) Clone() *State {
	cp := &State{
		MemHeadLen: s.MemHeadLen,
		Stack:      append([]*Value(nil), s.Stack...),
		MemHead:    append([]*MemItem(nil), s.MemHead...),
		FMPs:       append([]*Value(nil), s.FMPs...),
		FMPIDs:     append([]int64(nil), s.FMPIDs...),
		Sto:        append([]*StoItem(nil), s.Sto...),
		Path:       append([]*PathItem(nil), s.Path...),
		Trace:      append([]*Value(nil), s.Trace...),
	}
	cp.Mem = make([][]*MemItem, len(s.Mem))
	for i, arena := range s.Mem {
		cp.Mem[i] = append([]*MemItem(nil), arena...)
	}
	return cp
}

// Top returns the top of stack, or nil if empty.
func (s *State) Top() *Value {
	if len(s.Stack) == 0 {
		return nil
	}
	return s.Stack[len(s.Stack)-1]
}

// Push appends v to the top of the stack.
func (s *State) Push(v *Value) { s.Stack = append(s.Stack, v) }

// Pop removes and returns the top of the stack.
func (s *State) Pop() *Value {
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v
}

// PopN removes the top n stack items and returns them top-first, matching
// the engine's deterministic top-first operand-capture order.
func (s *State) PopN(n int) []*Value {
	out := make([]*Value, n)
	top := len(s.Stack)
	for i := 0; i < n; i++ {
		out[i] = s.Stack[top-1-i]
	}
	s.Stack = s.Stack[:top-n]
	return out
}

// NthFromTop returns the n-th item from the top, 1-indexed (DUP1/SWAP1
// convention): n=1 is the top itself.
func (s *State) NthFromTop(n int) *Value {
	return s.Stack[len(s.Stack)-n]
}

// Image is the canonical summary of a stack state at a basic-block entry,
// used to cut DFS revisits: for each stack slot, the pair (push offset,
// sorted taint category list). Two images compare equal iff every slot's
// pair matches.
type Image struct {
	key string
}

// NewImage builds an Image from a live stack.
func NewImage(stk []*Value) Image {
	var b strings.Builder
	for _, v := range stk {
		if v.PushOffset != nil {
			b.WriteString(strconv.Itoa(*v.PushOffset))
		} else {
			b.WriteString("-")
		}
		b.WriteByte(':')

		taints := v.Taint.ToSlice()
		sorted := make([]int, 0, len(taints))
		for _, t := range taints {
			sorted = append(sorted, int(t.(opcodes.Opcode)))
		}
		sort.Ints(sorted)
		for _, t := range sorted {
			b.WriteString(strconv.Itoa(t))
			b.WriteByte(',')
		}
		b.WriteByte(';')
	}
	return Image{key: b.String()}
}
