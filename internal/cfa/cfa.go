// Package cfa implements spec.md §4.1: the control-flow analyser that
// discovers basic blocks and their successor graph from raw method
// bytecode. Grounded on the teacher's block/label-table materialisation
// in std/compiler/backend_ir.go and ir.go, generalised from IR-level
// labels down to raw bytecode leader discovery.
package cfa

import (
	"fmt"
	"sort"

	"github.com/gojit/gojit/internal/bytecode"
	"github.com/gojit/gojit/internal/classfile"
)

// ErrVerify wraps classfile.ErrVerify for CFA-detected failures (branch
// targets out of range, or landing mid-instruction across an
// already-decoded boundary).
var ErrVerify = classfile.ErrVerify

// BasicBlock is a maximal straight-line bytecode range, plus its successor
// list, as named in spec.md §3 "Basic block" and §4.1 "Output".
type BasicBlock struct {
	ID         int
	Start, End int // [Start, End) bytecode offsets
	Succ       []int
	instrs     []bytecode.Instr // instructions in [Start, End), in order
}

// Instrs returns the decoded instructions covering this block.
func (b *BasicBlock) Instrs() []bytecode.Instr { return b.instrs }

// CFG is the materialised basic-block graph for one method's bytecode.
type CFG struct {
	Blocks []*BasicBlock
	// blockOf maps a leader bytecode offset to its BasicBlock's index.
	blockOf map[int]int
}

// BlockContaining returns the block whose range includes offset, used by
// exception-handler leaders and by the HIR builder's EH-aware translation.
func (g *CFG) BlockContaining(offset int) (*BasicBlock, bool) {
	// Blocks are maintained in Start order; binary search is safe here
	// since a finished CFG never overlaps.
	i := sort.Search(len(g.Blocks), func(i int) bool { return g.Blocks[i].Start > offset })
	if i == 0 {
		return nil, false
	}
	b := g.Blocks[i-1]
	if offset >= b.Start && offset < b.End {
		return b, true
	}
	return nil, false
}

// Analyze runs the two-pass algorithm of spec.md §4.1 over code, treating
// every ehTable HandlerPC as an additional leader.
func Analyze(code []byte, ehTable []classfile.EHEntry) (*CFG, error) {
	instrs, ok := bytecode.Decode(code)
	if !ok {
		return nil, fmt.Errorf("%w: cfa: undecodable bytecode", ErrVerify)
	}
	if len(instrs) == 0 {
		return &CFG{}, nil
	}

	instrAt := make(map[int]bytecode.Instr, len(instrs))
	for _, in := range instrs {
		instrAt[in.Offset] = in
	}
	validTarget := func(off int) bool {
		_, ok := instrAt[off]
		return ok
	}

	// Pass 1: leader discovery.
	leaderSet := map[int]bool{0: true}
	for _, in := range instrs {
		for _, t := range in.Targets() {
			if !validTarget(t) {
				return nil, fmt.Errorf("%w: cfa: branch at %d targets invalid offset %d", ErrVerify, in.Offset, t)
			}
			leaderSet[t] = true
		}
		isTerminal := bytecode.IsConditionalBranch(in.Op) || bytecode.IsUnconditionalBranch(in.Op) ||
			in.Op == bytecode.OpJsr || bytecode.IsSwitch(in.Op)
		if isTerminal && in.Next < len(code) {
			leaderSet[in.Next] = true
		}
	}
	for _, eh := range ehTable {
		if !validTarget(eh.HandlerPC) {
			return nil, fmt.Errorf("%w: cfa: handler_pc %d invalid", ErrVerify, eh.HandlerPC)
		}
		leaderSet[eh.HandlerPC] = true
	}

	leaders := make([]int, 0, len(leaderSet))
	for l := range leaderSet {
		leaders = append(leaders, l)
	}
	sort.Ints(leaders)

	// Pass 2: block materialisation.
	g := &CFG{blockOf: make(map[int]int, len(leaders))}
	for i, start := range leaders {
		end := len(code)
		if i+1 < len(leaders) {
			end = leaders[i+1]
		}
		blk := &BasicBlock{ID: i, Start: start, End: end}
		for _, in := range instrs {
			if in.Offset >= start && in.Offset < end {
				blk.instrs = append(blk.instrs, in)
			}
		}
		g.blockOf[start] = len(g.Blocks)
		g.Blocks = append(g.Blocks, blk)
	}

	// Successor assignment.
	for _, blk := range g.Blocks {
		if len(blk.instrs) == 0 {
			continue // an empty tail block (e.g. EH handler at code end) has no successors
		}
		last := blk.instrs[len(blk.instrs)-1]
		switch {
		case bytecode.IsReturnOrThrow(last.Op):
			// no successors
		case bytecode.IsUnconditionalBranch(last.Op), last.Op == bytecode.OpJsr:
			for _, t := range last.Targets() {
				blk.Succ = append(blk.Succ, g.blockOf[t])
			}
		case bytecode.IsConditionalBranch(last.Op):
			blk.Succ = append(blk.Succ, g.blockOf[last.Targets()[0]])
			if last.Next < len(code) {
				blk.Succ = append(blk.Succ, g.blockOf[last.Next])
			}
		case bytecode.IsSwitch(last.Op):
			for _, t := range last.Targets() {
				blk.Succ = append(blk.Succ, g.blockOf[t])
			}
		default:
			if last.Next < len(code) {
				blk.Succ = append(blk.Succ, g.blockOf[last.Next])
			}
		}
	}

	return g, nil
}
