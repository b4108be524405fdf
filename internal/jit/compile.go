package jit

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gojit/gojit/internal/arena"
	"github.com/gojit/gojit/internal/cfa"
	"github.com/gojit/gojit/internal/codegen"
	"github.com/gojit/gojit/internal/hir"
	"github.com/gojit/gojit/internal/lir"
	"github.com/gojit/gojit/internal/regalloc"
)

// x64RegConfig is the machine register budget the allocator may hand
// out on x86-64: general-purpose register numbers 0-13 less rsp and
// rbp, i.e. 12 registers (r14 and r15 are never handed out), and 16
// XMM registers.
var x64RegConfig = regalloc.Config{
	GPRCount: 14,
	XMMCount: 16,
	ReservedGPR: map[int]bool{
		codegen.RSP: true,
		codegen.RBP: true,
	},
}

// pendingCall is one not-yet-resolved direct call site, recorded against
// its callee's FullName until that callee publishes, per spec.md §4.7.1.
type pendingCall struct {
	callerAddr uintptr
	codeOffset int
}

// Manager drives one-method-at-a-time JIT compilation end to end: it
// owns the text arena methods publish into, the map from a method's
// FullName to its published entry point, and the call sites still
// waiting on a callee that hasn't compiled yet (spec.md §3 "Method
// registry", §4.7.1 "Direct call-site patching", §5 "Concurrency").
type Manager struct {
	Arena *arena.Arena

	mu      sync.Mutex
	addrs   map[string]uintptr
	pending map[string][]pendingCall
}

// NewManager creates a Manager with a fresh text arena sized
// textArenaPages pages per chunk.
func NewManager(textArenaPages int) *Manager {
	return &Manager{
		Arena:   arena.New(textArenaPages),
		addrs:   make(map[string]uintptr),
		pending: make(map[string][]pendingCall),
	}
}

// AddrOf returns the published entry point for a fully-qualified method
// name, if it has already been compiled.
func (m *Manager) AddrOf(fullName string) (uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addrs[fullName]
	return a, ok
}

// CompileAll compiles every cu concurrently, honouring each CU's own
// mutex so two goroutines never race to compile the same method twice
// (spec.md §5: "compilation of a single CU is serialized by its own
// mutex; independent CUs may compile concurrently").
func (m *Manager) CompileAll(cus []*CU) error {
	g := new(errgroup.Group)
	for _, cu := range cus {
		cu := cu
		g.Go(func() error {
			_, err := m.Compile(cu)
			return err
		})
	}
	return g.Wait()
}

// Compile runs one method's CU through CFA -> HIR -> LIR -> register
// allocation -> code emission -> publication, matching spec.md §4's
// pipeline end to end. It is idempotent: a CU already compiled returns
// its existing address without redoing the work.
func (m *Manager) Compile(cu *CU) (uintptr, error) {
	cu.mu.Lock()
	defer cu.mu.Unlock()

	if cu.isCompiled {
		return m.addrs[cu.Method.FullName()], nil
	}

	method := cu.Method

	cg, err := cfa.Analyze(method.Code, method.EHTable)
	if err != nil {
		return 0, fmt.Errorf("jit: cfa: %s: %w", method.FullName(), err)
	}

	cu.Blocks = make([]*BasicBlock, len(cg.Blocks))
	for i, b := range cg.Blocks {
		cu.Blocks[i] = &BasicBlock{BasicBlock: b}
	}
	cu.ExceptionHandlers = method.EHTable

	hirByBlock, err := hir.Build(method, cg)
	if err != nil {
		return 0, fmt.Errorf("jit: hir: %s: %w", method.FullName(), err)
	}
	for _, bb := range cu.Blocks {
		bb.HIR = hirByBlock[bb.ID]
	}

	lirBlocks := make([]lir.Block, len(cu.Blocks))
	for i, bb := range cu.Blocks {
		lirBlocks[i] = lir.Block{ID: bb.ID, HIR: bb.HIR}
	}
	lirByBlock, err := lir.Select(cu, lirBlocks, len(method.ArgTypes))
	if err != nil {
		return 0, fmt.Errorf("jit: lir: %s: %w", method.FullName(), err)
	}
	for _, bb := range cu.Blocks {
		bb.LIR = lirByBlock[bb.ID]
	}

	raBlocks := make([]regalloc.Block, len(cu.Blocks))
	for i, bb := range cu.Blocks {
		raBlocks[i] = regalloc.Block{ID: bb.ID, Insns: bb.LIR}
	}
	loc := regalloc.Allocate(raBlocks, x64RegConfig)
	cu.Frame.FrameSize = (method.MaxLocals + loc.NumSpills) * 8

	cgBlocks := make([]codegen.Block, len(cu.Blocks))
	for i, bb := range cu.Blocks {
		cgBlocks[i] = codegen.Block{ID: bb.ID, Insns: bb.LIR}
	}
	result, err := codegen.Emit(cgBlocks, loc, cu.Frame.FrameSize)
	if err != nil {
		return 0, fmt.Errorf("jit: codegen: %s: %w", method.FullName(), err)
	}

	cu.Objcode = result.Code
	addr, err := m.Arena.Publish(cu.Objcode)
	if err != nil {
		return 0, fmt.Errorf("jit: publish: %s: %w", method.FullName(), err)
	}

	for _, cf := range result.CallFixups {
		if strings.HasPrefix(cf.Target, "runtime.") || strings.HasPrefix(cf.Target, "itable:") {
			// Resolved by internal/except's collaborator wiring and
			// internal/trampoline's itable stubs respectively, not by this
			// method-to-method direct-call fixup table.
			continue
		}
		cu.CallFixups = append(cu.CallFixups, FixupSite{CodeOffset: cf.CodeOffset, Target: cf.Target})
		m.resolveOrDefer(addr, cf.CodeOffset, cf.Target)
	}

	for _, sf := range result.StaticFixups {
		// Resolved once internal/runtime allocates the field's class a
		// static-storage block (spec.md §4.7.4); recorded here so that
		// allocation step has something to patch.
		cu.StaticFixups = append(cu.StaticFixups, FixupSite{CodeOffset: sf.CodeOffset, Target: sf.Target, IsStatic: true})
	}

	m.mu.Lock()
	m.addrs[method.FullName()] = addr
	waiters := m.pending[method.FullName()]
	delete(m.pending, method.FullName())
	m.mu.Unlock()

	for _, w := range waiters {
		if err := patchCallSite(m.Arena, w.callerAddr, w.codeOffset, addr); err != nil {
			return 0, fmt.Errorf("jit: resolving call into %s: %w", method.FullName(), err)
		}
	}

	cu.isCompiled = true
	return addr, nil
}

// resolveOrDefer patches a call site immediately if its callee is
// already compiled, or records it against the callee's FullName to be
// patched the moment that callee does compile (spec.md §4.7.1).
func (m *Manager) resolveOrDefer(callerAddr uintptr, codeOffset int, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if calleeAddr, ok := m.addrs[target]; ok {
		_ = patchCallSite(m.Arena, callerAddr, codeOffset, calleeAddr)
		return
	}
	m.pending[target] = append(m.pending[target], pendingCall{callerAddr: callerAddr, codeOffset: codeOffset})
}

// patchCallSite rewrites the rel32 immediately following a `call`
// opcode byte at callerAddr+codeOffset so it lands on calleeAddr.
func patchCallSite(a *arena.Arena, callerAddr uintptr, codeOffset int, calleeAddr uintptr) error {
	siteAddr := callerAddr + uintptr(codeOffset)
	rel := int32(int64(calleeAddr) - (int64(siteAddr) + 4))
	b := []byte{byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24)}
	return a.Patch(siteAddr, b)
}
