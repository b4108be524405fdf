// Package regalloc implements the linear-scan register allocator spec.md
// §4.4 names: build live intervals from def/use positions, sort by start,
// sweep assigning free physical registers, and when none is free spill
// whichever of the new interval and the active interval ending farthest
// away ends later (individual next-use positions are not consulted),
// and honour registers
// pre-coloured by the instruction selector for division, shift and call
// ABI constraints. Grounded on the teacher's single-pass register
// assignment in std/compiler/backend.go, generalised from its
// whole-function value-numbering scheme to per-CU linear scan over
// vreg intervals.
package regalloc

import (
	"sort"

	"github.com/gojit/gojit/internal/lir"
)

// Block is one basic block's instruction stream as handed to Allocate;
// blocks must be supplied in the order the allocator should assign
// monotonically increasing global positions (normally CU block order,
// which matches reverse post-order for an already-linearised method).
type Block struct {
	ID    int
	Insns []lir.Inst
}

// Interval is one virtual register's live range, expressed in the global
// position numbering Allocate assigns across all blocks (spec.md §4.4
// "intervals are built from def/use positions across the whole CU").
type Interval struct {
	VReg        lir.VReg
	Kind        lir.RegKind
	Start, End  int
	FixedReg    int // >= 0 if the selector pre-coloured this vreg to a specific machine register; -1 otherwise
	UsePos      []int
	AssignedReg int // machine register number once Allocate finishes; -1 if spilled
	SpillSlot   int // frame-local spill slot index; -1 if never spilled
}

// Result is Allocate's output: every interval it built and the final
// spill count. The instruction stream itself is renumbered in place in
// the blocks passed to Allocate (global position assigned to each
// Inst.Pos, matching Interval.Start/End).
type Result struct {
	Intervals []*Interval
	ByVReg    map[lir.VReg]*Interval
	NumSpills int
}

// GPRCount and XMMCount bound which machine registers of each class
// Allocate may hand out before it must spill: register numbers 0 to
// GPRCount-1 (less any in ReservedGPR) and 0 to XMMCount-1. internal/jit
// supplies the concrete counts for x86-64.
type Config struct {
	GPRCount int
	XMMCount int
	// ReservedGPR lists machine register numbers Allocate must never hand
	// out to an ordinary interval: the frame pointer, stack pointer, and
	// (on x86-32) the register pinned for PIC base addressing.
	ReservedGPR map[int]bool
}

// Allocate runs linear-scan register allocation over blocks in order,
// renumbering each Inst's Pos field in place (multiples of two, per
// spec.md §4.4) and returning the interval set codegen walks to resolve
// every Operand's final register or spill slot.
func Allocate(blocks []Block, cfg Config) *Result {
	pos := 0
	byVReg := map[lir.VReg]*Interval{}

	touch := func(v lir.VReg, kind lir.RegKind, p int, isUse bool) {
		iv, ok := byVReg[v]
		if !ok {
			iv = &Interval{VReg: v, Kind: kind, Start: p, End: p, FixedReg: -1, AssignedReg: -1, SpillSlot: -1}
			byVReg[v] = iv
		}
		if p < iv.Start {
			iv.Start = p
		}
		if p > iv.End {
			iv.End = p
		}
		if isUse {
			iv.UsePos = append(iv.UsePos, p)
		}
	}

	for bi := range blocks {
		for ii := range blocks[bi].Insns {
			in := &blocks[bi].Insns[ii]
			in.Pos = pos
			for _, u := range in.Uses() {
				touch(u.VReg, u.Kind, pos, true)
			}
			for _, d := range in.Defs() {
				if int(d.VReg) <= 0 {
					continue // FixedClobbers encode machine regs as negative vregs; tracked via fixedDef below
				}
				touch(d.VReg, d.Kind, pos, false)
			}
			for _, c := range in.FixedClobbers {
				fixedDef(byVReg, c, pos)
			}
			pos += 2
		}
	}

	intervals := make([]*Interval, 0, len(byVReg))
	for _, iv := range byVReg {
		intervals = append(intervals, iv)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	spills := linearScan(intervals, cfg)

	return &Result{Intervals: intervals, ByVReg: byVReg, NumSpills: spills}
}

// fixedDef records that a FixedClobbers machine register is defined at
// pos without creating a full vreg interval for it; codegen treats these
// purely as liveness barriers for the duration of the owning instruction.
func fixedDef(byVReg map[lir.VReg]*Interval, machReg, pos int) {
	key := lir.VReg(-1 - machReg)
	iv, ok := byVReg[key]
	if !ok {
		iv = &Interval{VReg: key, Kind: lir.RegGPR, Start: pos, End: pos, FixedReg: machReg, AssignedReg: machReg, SpillSlot: -1}
		byVReg[key] = iv
		return
	}
	if pos > iv.End {
		iv.End = pos
	}
}

// active is the sweep's live set, kept sorted by End so the spill
// candidate, the interval ending farthest away, is always at the tail.
// Next-use positions are not tracked.
type active struct {
	gpr, xmm []*Interval
}

func linearScan(intervals []*Interval, cfg Config) int {
	var act active
	freeGPR := freeSet(cfg.GPRCount, cfg.ReservedGPR)
	freeXMM := freeSet(cfg.XMMCount, nil)
	spillCount := 0

	poolFor := func(kind lir.RegKind) *[]int {
		if kind == lir.RegXMM {
			return &freeXMM
		}
		return &freeGPR
	}
	activeFor := func(kind lir.RegKind) *[]*Interval {
		if kind == lir.RegXMM {
			return &act.xmm
		}
		return &act.gpr
	}

	for _, iv := range intervals {
		if iv.FixedReg >= 0 {
			expireOld(activeFor(iv.Kind), poolFor(iv.Kind), iv.Start)
			continue // pre-coloured: no free-list bookkeeping, codegen honours FixedReg directly
		}

		pool := poolFor(iv.Kind)
		act := activeFor(iv.Kind)
		expireOld(act, pool, iv.Start)

		if len(*pool) > 0 {
			r := (*pool)[len(*pool)-1]
			*pool = (*pool)[:len(*pool)-1]
			iv.AssignedReg = r
			*act = append(*act, iv)
			sort.Slice(*act, func(i, j int) bool { return (*act)[i].End < (*act)[j].End })
			continue
		}

		// No free register: spill either the new interval or the active
		// interval whose End is farthest away.
		if len(*act) > 0 {
			last := (*act)[len(*act)-1]
			if last.End > iv.End {
				iv.AssignedReg = last.AssignedReg
				last.AssignedReg = -1
				last.SpillSlot = spillCount
				spillCount++
				*act = (*act)[:len(*act)-1]
				*act = append(*act, iv)
				sort.Slice(*act, func(i, j int) bool { return (*act)[i].End < (*act)[j].End })
				continue
			}
		}
		iv.SpillSlot = spillCount
		spillCount++
	}
	return spillCount
}

func expireOld(act *[]*Interval, pool *[]int, at int) {
	kept := (*act)[:0]
	for _, iv := range *act {
		if iv.End < at {
			if iv.AssignedReg >= 0 {
				*pool = append(*pool, iv.AssignedReg)
			}
			continue
		}
		kept = append(kept, iv)
	}
	*act = kept
}

func freeSet(n int, reserved map[int]bool) []int {
	out := make([]int, 0, n)
	for r := n - 1; r >= 0; r-- {
		if reserved[r] {
			continue
		}
		out = append(out, r)
	}
	return out
}
