package hir

import (
	"fmt"
	"sort"

	"github.com/gojit/gojit/internal/bytecode"
	"github.com/gojit/gojit/internal/cfa"
	"github.com/gojit/gojit/internal/classfile"
)

// stack is the abstract interpreter's typed operand stack, used only
// during Build; HIR itself never represents a stack, per spec.md §4.2
// "Build walks ... maintaining a typed abstract stack, and lowers each
// stack effect into tree-shaped statements."
type stack []Expr

func (s *stack) push(e Expr) { *s = append(*s, e) }
func (s *stack) pop() Expr {
	n := len(*s)
	e := (*s)[n-1]
	*s = (*s)[:n-1]
	return e
}
func (s *stack) peek() Expr { return (*s)[len(*s)-1] }

// Build runs abstract interpretation over every block in g, producing one
// Stmt slice per block keyed by block ID. Constant-pool and field/method
// references resolve through method.Class.Pool. Null/bounds/zero checks
// are never elided here — spec.md keeps guard emission unconditional and
// leaves elimination to a later pass, which this module does not
// implement.
func Build(method *classfile.Method, g *cfa.CFG) (map[int][]Stmt, error) {
	pool := method.Class.Pool
	out := make(map[int][]Stmt, len(g.Blocks))

	// entryDepth[i] is the depth of the abstract stack handed to block i
	// on entry; those values arrive purely as TempExpr references (spec.md §4.2 "Empty-stack
	// discipline": any value live across a block boundary is materialised
	// through a shared temporary, never carried as a raw expression tree).
	entryDepth := make([]int, len(g.Blocks))
	nextTemp := 0

	// subReturns maps a block belonging to a jsr/ret subroutine to the set
	// of bytecode offsets jsr sites entering that subroutine push as the
	// return address (spec.md §4.2 "jsr/ret ... effectively inlining the
	// subroutine").
	subReturns := resolveSubroutines(g)

	for bi, blk := range g.Blocks {
		st := stack{}
		for d := 0; d < entryDepth[bi]; d++ {
			st.push(&TempExpr{ID: nextTemp - entryDepth[bi] + d, VMType: classfile.TInt})
		}

		var stmts []Stmt
		// tailLen counts how many of stmts came from the block's final
		// instruction, so any exit-stack materialisation below can be
		// spliced in *before* that instruction's own terminal statement
		// (GotoStmt/IfStmt/SwitchStmt) rather than appended after it — a
		// statement following an unconditional control transfer in the
		// same block would never execute.
		tailLen := 0
		instrs := blk.Instrs()
		for idx, in := range instrs {
			before := len(stmts)
			s, err := step(method, pool, &st, in, g, bi, subReturns)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s...)
			if idx == len(instrs)-1 {
				tailLen = len(stmts) - before
			}
		}

		if len(st) > 0 {
			// Materialise the exit stack into shared temporaries so every
			// successor can read it back without carrying raw Expr trees
			// across the block boundary.
			base := nextTemp
			assigns := make([]Stmt, 0, len(st))
			for i, v := range st {
				assigns = append(assigns, &AssignTempStmt{ID: base + i, Val: v})
			}
			splitAt := len(stmts) - tailLen
			merged := make([]Stmt, 0, len(stmts)+len(assigns))
			merged = append(merged, stmts[:splitAt]...)
			merged = append(merged, assigns...)
			merged = append(merged, stmts[splitAt:]...)
			stmts = merged

			nextTemp += len(st)
			for _, succ := range blk.Succ {
				if entryDepth[succ] != 0 && entryDepth[succ] != len(st) {
					return nil, fmt.Errorf("hir: inconsistent stack depth at block %d entry", succ)
				}
				entryDepth[succ] = len(st)
			}
		}

		out[blk.ID] = stmts
	}
	return out, nil
}

func step(m *classfile.Method, pool *classfile.ConstantPool, st *stack, in bytecode.Instr, g *cfa.CFG, bi int, subReturns map[int][]int) ([]Stmt, error) {
	op := in.Op
	switch {
	case op == bytecode.OpNop:
		return nil, nil

	case op == bytecode.OpAConstNull:
		st.push(&ConstExpr{VMType: classfile.TRef, IsNull: true})
		return nil, nil
	case op >= bytecode.OpIConstM1 && op <= bytecode.OpIConst5:
		st.push(&ConstExpr{VMType: classfile.TInt, IVal: int64(int(op) - int(bytecode.OpIConst0))})
		return nil, nil
	case op == bytecode.OpLConst0 || op == bytecode.OpLConst1:
		v := int64(0)
		if op == bytecode.OpLConst1 {
			v = 1
		}
		st.push(&ConstExpr{VMType: classfile.TLong, IVal: v})
		return nil, nil
	case op == bytecode.OpFConst0:
		st.push(&ConstExpr{VMType: classfile.TFloat, FVal: 0})
		return nil, nil
	case op == bytecode.OpDConst0:
		st.push(&ConstExpr{VMType: classfile.TDouble, DVal: 0})
		return nil, nil
	case op == bytecode.OpBipush:
		st.push(&ConstExpr{VMType: classfile.TInt, IVal: int64(int8(in.Raw[1]))})
		return nil, nil
	case op == bytecode.OpSipush:
		v := int16(uint16(in.Raw[1])<<8 | uint16(in.Raw[2]))
		st.push(&ConstExpr{VMType: classfile.TInt, IVal: int64(v)})
		return nil, nil
	case op == bytecode.OpLdc:
		return nil, loadConstant(pool, int(in.Raw[1]), st)
	case op == bytecode.OpLdcW || op == bytecode.OpLdc2W:
		idx := int(in.Raw[1])<<8 | int(in.Raw[2])
		return nil, loadConstant(pool, idx, st)

	case isLoadN(op, bytecode.OpILoad0, bytecode.OpILoad3):
		st.push(&LocalExpr{Slot: int(op - bytecode.OpILoad0), VMType: classfile.TInt})
		return nil, nil
	case isLoadN(op, bytecode.OpALoad0, bytecode.OpALoad3):
		st.push(&LocalExpr{Slot: int(op - bytecode.OpALoad0), VMType: classfile.TRef})
		return nil, nil
	case op == bytecode.OpILoad:
		st.push(&LocalExpr{Slot: int(in.Raw[1]), VMType: classfile.TInt})
		return nil, nil
	case op == bytecode.OpALoad:
		st.push(&LocalExpr{Slot: int(in.Raw[1]), VMType: classfile.TRef})
		return nil, nil
	case op == bytecode.OpLLoad:
		st.push(&LocalExpr{Slot: int(in.Raw[1]), VMType: classfile.TLong})
		return nil, nil
	case op == bytecode.OpFLoad:
		st.push(&LocalExpr{Slot: int(in.Raw[1]), VMType: classfile.TFloat})
		return nil, nil
	case op == bytecode.OpDLoad:
		st.push(&LocalExpr{Slot: int(in.Raw[1]), VMType: classfile.TDouble})
		return nil, nil

	case isLoadN(op, bytecode.OpIStore0, bytecode.OpIStore3):
		v := st.pop()
		return []Stmt{&AssignLocalStmt{Slot: int(op - bytecode.OpIStore0), Val: v}}, nil
	case isLoadN(op, bytecode.OpAStore0, bytecode.OpAStore3):
		v := st.pop()
		return []Stmt{&AssignLocalStmt{Slot: int(op - bytecode.OpAStore0), Val: v}}, nil
	case op == bytecode.OpIStore || op == bytecode.OpAStore || op == bytecode.OpLStore ||
		op == bytecode.OpFStore || op == bytecode.OpDStore:
		v := st.pop()
		return []Stmt{&AssignLocalStmt{Slot: int(in.Raw[1]), Val: v}}, nil

	case op == bytecode.OpIAStore || op == bytecode.OpAAStore || op == bytecode.OpBAStore:
		v := st.pop()
		idx := st.pop()
		arr := st.pop()
		et := classfile.TInt
		if op == bytecode.OpAAStore {
			et = classfile.TRef
		}
		return []Stmt{
			&NullCheckStmt{X: arr},
			&BoundsCheckStmt{Array: arr, Index: idx},
			&ArrayStoreStmt{Array: arr, Index: idx, Val: v, ElemType: et, StoreCheck: op == bytecode.OpAAStore},
		}, nil
	case op == bytecode.OpIALoad || op == bytecode.OpAALoad || op == bytecode.OpBALoad:
		idx := st.pop()
		arr := st.pop()
		et := classfile.TInt
		if op == bytecode.OpAALoad {
			et = classfile.TRef
		}
		stmts := []Stmt{&NullCheckStmt{X: arr}, &BoundsCheckStmt{Array: arr, Index: idx}}
		st.push(&ArrayLoadExpr{Array: arr, Index: idx, ElemType: et})
		return stmts, nil
	case op == bytecode.OpArrayLength:
		arr := st.pop()
		stmts := []Stmt{&NullCheckStmt{X: arr}}
		st.push(&ArrayLengthExpr{Array: arr})
		return stmts, nil

	case op == bytecode.OpPop:
		st.pop()
		return nil, nil
	case op == bytecode.OpPop2:
		st.pop()
		st.pop()
		return nil, nil
	case op == bytecode.OpDup:
		v := st.peek()
		st.push(v)
		return nil, nil
	case op == bytecode.OpSwap:
		a := st.pop()
		b := st.pop()
		st.push(a)
		st.push(b)
		return nil, nil

	case op == bytecode.OpIAdd, op == bytecode.OpLAdd, op == bytecode.OpFAdd, op == bytecode.OpDAdd:
		return nil, binOp(st, OpAdd)
	case op == bytecode.OpISub:
		return nil, binOp(st, OpSub)
	case op == bytecode.OpIMul:
		return nil, binOp(st, OpMul)
	case op == bytecode.OpIDiv:
		return divOp(st, OpDiv)
	case op == bytecode.OpIRem:
		return divOp(st, OpRem)
	case op == bytecode.OpINeg:
		v := st.pop()
		st.push(&NegExpr{VMType: v.Type(), X: v})
		return nil, nil
	case op == bytecode.OpIShl:
		return nil, binOp(st, OpShl)
	case op == bytecode.OpIShr:
		return nil, binOp(st, OpShr)
	case op == bytecode.OpIUshr:
		return nil, binOp(st, OpUshr)
	case op == bytecode.OpIAnd:
		return nil, binOp(st, OpAnd)
	case op == bytecode.OpIOr:
		return nil, binOp(st, OpOr)
	case op == bytecode.OpIXor:
		return nil, binOp(st, OpXor)

	case op == bytecode.OpIInc:
		slot := int(in.Raw[1])
		delta := int64(int8(in.Raw[2]))
		return []Stmt{&AssignLocalStmt{Slot: slot, Val: &BinExpr{
			Op: OpAdd, VMType: classfile.TInt,
			Lhs: &LocalExpr{Slot: slot, VMType: classfile.TInt},
			Rhs: &ConstExpr{VMType: classfile.TInt, IVal: delta},
		}}}, nil

	case op == bytecode.OpI2L:
		return convert(st, classfile.TInt, classfile.TLong), nil
	case op == bytecode.OpI2F:
		return convert(st, classfile.TInt, classfile.TFloat), nil
	case op == bytecode.OpI2D:
		return convert(st, classfile.TInt, classfile.TDouble), nil
	case op == bytecode.OpL2I:
		return convert(st, classfile.TLong, classfile.TInt), nil
	case op == bytecode.OpF2I:
		return convert(st, classfile.TFloat, classfile.TInt), nil
	case op == bytecode.OpD2I:
		return convert(st, classfile.TDouble, classfile.TInt), nil

	case op == bytecode.OpLCmp:
		r := st.pop()
		l := st.pop()
		st.push(&CompareExpr{Lhs: l, Rhs: r})
		return nil, nil
	case op == bytecode.OpFCmpL || op == bytecode.OpDCmpL:
		r := st.pop()
		l := st.pop()
		st.push(&CompareExpr{Lhs: l, Rhs: r, NanGreater: false})
		return nil, nil
	case op == bytecode.OpFCmpG || op == bytecode.OpDCmpG:
		r := st.pop()
		l := st.pop()
		st.push(&CompareExpr{Lhs: l, Rhs: r, NanGreater: true})
		return nil, nil

	case bytecode.IsConditionalBranch(op):
		return condBranch(st, op, in, g, bi)

	case op == bytecode.OpGoto:
		target := targetBlock(g, bi, in.Targets()[0])
		return []Stmt{&GotoStmt{Target: target}}, nil

	case op == bytecode.OpJsr:
		// The return address is a synthetic constant the subroutine later
		// astores into a local and rets on (spec.md §4.2); entering the
		// subroutine itself is an ordinary goto.
		st.push(&ConstExpr{VMType: classfile.TInt, IVal: int64(in.Next)})
		target := targetBlock(g, bi, in.Targets()[0])
		return []Stmt{&GotoStmt{Target: target}}, nil

	case op == bytecode.OpRet:
		rets, ok := subReturns[bi]
		if !ok || len(rets) == 0 {
			return nil, fmt.Errorf("hir: ret at offset %d matches no jsr into its subroutine", in.Offset)
		}
		slot := int(in.Raw[1])
		keys := make([]int32, len(rets))
		targets := make([]int, len(rets))
		for i, off := range rets {
			keys[i] = int32(off)
			targets[i] = targetBlock(g, bi, off)
		}
		// ret becomes an indirect jump on the local holding the return
		// address, realised as a switch over the finitely many return
		// sites jsr could have pushed (lowered to KTableJump by the LIR
		// selector the same as a real bytecode switch).
		return []Stmt{&SwitchStmt{
			X:       &LocalExpr{Slot: slot, VMType: classfile.TInt},
			Default: targets[0],
			Keys:    keys,
			Targets: targets,
		}}, nil

	case bytecode.IsSwitch(op):
		return switchStmt(st, op, in, g, bi)

	case op == bytecode.OpIReturn, op == bytecode.OpLReturn, op == bytecode.OpFReturn,
		op == bytecode.OpDReturn, op == bytecode.OpAReturn:
		v := st.pop()
		return []Stmt{&ReturnStmt{X: v}}, nil
	case op == bytecode.OpReturn:
		return []Stmt{&ReturnStmt{X: nil}}, nil

	case op == bytecode.OpGetStatic:
		className, name, desc, ft, err := fieldRef(pool, in)
		if err != nil {
			return nil, err
		}
		st.push(&FieldExpr{ClassName: className, FieldName: name, Descriptor: desc, VMType: ft, Static: true})
		return []Stmt{&ClassInitGuardStmt{ClassName: className}}, nil
	case op == bytecode.OpPutStatic:
		className, name, desc, ft, err := fieldRef(pool, in)
		if err != nil {
			return nil, err
		}
		v := st.pop()
		return []Stmt{
			&ClassInitGuardStmt{ClassName: className},
			&StoreFieldStmt{ClassName: className, FieldName: name, Descriptor: desc, VMType: ft, Static: true, Val: v},
		}, nil
	case op == bytecode.OpGetField:
		className, name, desc, ft, err := fieldRef(pool, in)
		if err != nil {
			return nil, err
		}
		base := st.pop()
		st.push(&FieldExpr{Base: base, ClassName: className, FieldName: name, Descriptor: desc, VMType: ft})
		return []Stmt{&NullCheckStmt{X: base}}, nil
	case op == bytecode.OpPutField:
		className, name, desc, ft, err := fieldRef(pool, in)
		if err != nil {
			return nil, err
		}
		v := st.pop()
		base := st.pop()
		return []Stmt{
			&NullCheckStmt{X: base},
			&StoreFieldStmt{Base: base, ClassName: className, FieldName: name, Descriptor: desc, VMType: ft, Val: v},
		}, nil

	case op == bytecode.OpInvokeStatic, op == bytecode.OpInvokeSpecial,
		op == bytecode.OpInvokeVirtual, op == bytecode.OpInvokeInterface:
		return invoke(pool, st, op, in)

	case op == bytecode.OpNew:
		idx := int(in.Raw[1])<<8 | int(in.Raw[2])
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		st.push(&NewExpr{ClassName: name})
		return nil, nil
	case op == bytecode.OpNewArray:
		length := st.pop()
		st.push(&NewArrayExpr{Length: length, ElemType: classfile.TInt})
		return nil, nil
	case op == bytecode.OpANewArray:
		idx := int(in.Raw[1])<<8 | int(in.Raw[2])
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		length := st.pop()
		st.push(&NewArrayExpr{Length: length, ElemType: classfile.TRef, ElemClass: name})
		return nil, nil

	case op == bytecode.OpAThrow:
		v := st.pop()
		return []Stmt{&NullCheckStmt{X: v}, &ThrowStmt{X: v}}, nil
	case op == bytecode.OpCheckCast:
		idx := int(in.Raw[1])<<8 | int(in.Raw[2])
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		v := st.pop()
		st.push(&CheckCastExpr{X: v, ClassName: name})
		return nil, nil
	case op == bytecode.OpInstanceOf:
		idx := int(in.Raw[1])<<8 | int(in.Raw[2])
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		v := st.pop()
		st.push(&InstanceOfExpr{X: v, ClassName: name})
		return nil, nil
	case op == bytecode.OpMonitorEnter:
		v := st.pop()
		return []Stmt{&NullCheckStmt{X: v}, &MonitorStmt{X: v, Enter: true}}, nil
	case op == bytecode.OpMonitorExit:
		v := st.pop()
		return []Stmt{&MonitorStmt{X: v, Enter: false}}, nil
	}

	return nil, fmt.Errorf("hir: unhandled opcode 0x%02x at offset %d", byte(op), in.Offset)
}

func isLoadN(op, lo, hi bytecode.Op) bool { return op >= lo && op <= hi }

func binOp(st *stack, k BinOp) error {
	r := st.pop()
	l := st.pop()
	st.push(&BinExpr{Op: k, VMType: l.Type(), Lhs: l, Rhs: r})
	return nil
}

func divOp(st *stack, k BinOp) ([]Stmt, error) {
	r := st.pop()
	l := st.pop()
	st.push(&BinExpr{Op: k, VMType: l.Type(), Lhs: l, Rhs: r})
	return []Stmt{&ZeroCheckStmt{X: r}}, nil
}

func convert(st *stack, from, to classfile.VMType) []Stmt {
	v := st.pop()
	st.push(&ConvertExpr{From: from, To: to, X: v})
	return nil
}

func loadConstant(pool *classfile.ConstantPool, idx int, st *stack) error {
	e, err := pool.Get(idx)
	if err != nil {
		return err
	}
	switch e.Tag {
	case 3: // Integer
		st.push(&ConstExpr{VMType: classfile.TInt, IVal: int64(e.Int32)})
	case 4: // Float
		st.push(&ConstExpr{VMType: classfile.TFloat, FVal: e.Float32})
	case 5: // Long
		st.push(&ConstExpr{VMType: classfile.TLong, IVal: e.Int64})
	case 6: // Double
		st.push(&ConstExpr{VMType: classfile.TDouble, DVal: e.Float64})
	case 8: // String
		st.push(&ConstExpr{VMType: classfile.TRef})
	default:
		return fmt.Errorf("hir: ldc of unsupported pool tag %d", e.Tag)
	}
	return nil
}

func fieldRef(pool *classfile.ConstantPool, in bytecode.Instr) (className, name, descriptor string, vt classfile.VMType, err error) {
	idx := int(in.Raw[1])<<8 | int(in.Raw[2])
	className, name, descriptor, err = pool.FieldrefAt(idx)
	if err != nil {
		return
	}
	vt, err = fieldVMType(descriptor)
	return
}

func fieldVMType(descriptor string) (classfile.VMType, error) {
	if len(descriptor) == 0 {
		return 0, fmt.Errorf("hir: empty field descriptor")
	}
	switch descriptor[0] {
	case 'I', 'Z', 'B', 'C', 'S':
		return classfile.TInt, nil
	case 'J':
		return classfile.TLong, nil
	case 'F':
		return classfile.TFloat, nil
	case 'D':
		return classfile.TDouble, nil
	case 'L', '[':
		return classfile.TRef, nil
	}
	return 0, fmt.Errorf("hir: unrecognised field descriptor %q", descriptor)
}

func invoke(pool *classfile.ConstantPool, st *stack, op bytecode.Op, in bytecode.Instr) ([]Stmt, error) {
	idx := int(in.Raw[1])<<8 | int(in.Raw[2])
	className, name, descriptor, err := pool.FieldrefAt(idx) // methodref shares layout with fieldref
	if err != nil {
		return nil, err
	}
	args, ret, err := classfile.ParseDescriptorForHIR(descriptor)
	if err != nil {
		return nil, err
	}
	argExprs := make([]Expr, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		argExprs[i] = st.pop()
	}

	var kind InvokeKind
	var receiver Expr
	var stmts []Stmt
	switch op {
	case bytecode.OpInvokeStatic:
		kind = InvokeStatic
		stmts = append(stmts, &ClassInitGuardStmt{ClassName: className})
	case bytecode.OpInvokeSpecial:
		kind = InvokeSpecial
		receiver = st.pop()
		stmts = append(stmts, &NullCheckStmt{X: receiver})
	case bytecode.OpInvokeVirtual:
		kind = InvokeVirtual
		receiver = st.pop()
		stmts = append(stmts, &NullCheckStmt{X: receiver})
	case bytecode.OpInvokeInterface:
		kind = InvokeInterface
		receiver = st.pop()
		stmts = append(stmts, &NullCheckStmt{X: receiver})
	}

	ie := &InvokeExpr{
		Kind: kind, ClassName: className, MethodName: name, Descriptor: descriptor,
		Receiver: receiver, Args: argExprs, RetType: ret,
		SigHash: sigHash(name, descriptor),
	}
	if ret == classfile.TVoid {
		stmts = append(stmts, &ExprStmt{X: ie})
	} else {
		st.push(ie)
	}
	return stmts, nil
}

// sigHash is the itable dispatch key: a simple FNV-1a over name+descriptor,
// matching spec.md §4.7.3 "a signature hash identifies the target slot".
func sigHash(name, descriptor string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	for i := 0; i < len(descriptor); i++ {
		h ^= uint32(descriptor[i])
		h *= 16777619
	}
	return h
}

func targetBlock(g *cfa.CFG, fromBlock, bytecodeOffset int) int {
	b, ok := g.BlockContaining(bytecodeOffset)
	if !ok {
		return -1
	}
	return b.ID
}

// resolveSubroutines finds every jsr/ret subroutine in g and maps each
// block it spans to the set of bytecode offsets some jsr site pushed as
// the return address to resume at, so step's OpRet case can lower `ret`
// into a switch over those known targets (spec.md §4.2). A subroutine
// spans every block reachable from its entry (the jsr target) without
// crossing into a different subroutine's own entry block or past a
// block ending in ret.
func resolveSubroutines(g *cfa.CFG) map[int][]int {
	entryReturns := map[int][]int{}
	for bi, blk := range g.Blocks {
		for _, in := range blk.Instrs() {
			if in.Op == bytecode.OpJsr {
				entry := targetBlock(g, bi, in.Targets()[0])
				entryReturns[entry] = append(entryReturns[entry], in.Next)
			}
		}
	}
	if len(entryReturns) == 0 {
		return nil
	}

	result := map[int][]int{}
	for entry, rets := range entryReturns {
		visited := map[int]bool{}
		queue := []int{entry}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if visited[id] {
				continue
			}
			visited[id] = true
			result[id] = rets

			blk := g.Blocks[id]
			instrs := blk.Instrs()
			if len(instrs) > 0 && instrs[len(instrs)-1].Op == bytecode.OpRet {
				continue // subroutine ends here; don't walk past its ret
			}
			for _, succ := range blk.Succ {
				if _, isOtherEntry := entryReturns[succ]; isOtherEntry && succ != entry {
					continue // a nested subroutine's own entry; it resolves itself
				}
				if !visited[succ] {
					queue = append(queue, succ)
				}
			}
		}
	}
	return result
}

func condBranch(st *stack, op bytecode.Op, in bytecode.Instr, g *cfa.CFG, bi int) ([]Stmt, error) {
	var lhs, rhs Expr
	var cond CondKind
	zero := &ConstExpr{VMType: classfile.TInt, IVal: 0}
	nul := &ConstExpr{VMType: classfile.TRef, IsNull: true}
	switch op {
	case bytecode.OpIfEq:
		lhs, rhs, cond = st.pop(), zero, CondEQ
	case bytecode.OpIfNe:
		lhs, rhs, cond = st.pop(), zero, CondNE
	case bytecode.OpIfLt:
		lhs, rhs, cond = st.pop(), zero, CondLT
	case bytecode.OpIfGe:
		lhs, rhs, cond = st.pop(), zero, CondGE
	case bytecode.OpIfGt:
		lhs, rhs, cond = st.pop(), zero, CondGT
	case bytecode.OpIfLe:
		lhs, rhs, cond = st.pop(), zero, CondLE
	case bytecode.OpIfNull:
		lhs, rhs, cond = st.pop(), nul, CondEQ
	case bytecode.OpIfNonNull:
		lhs, rhs, cond = st.pop(), nul, CondNE
	case bytecode.OpIfICmpEq, bytecode.OpIfACmpEq:
		rhs, lhs, cond = st.pop(), st.pop(), CondEQ
	case bytecode.OpIfICmpNe, bytecode.OpIfACmpNe:
		rhs, lhs, cond = st.pop(), st.pop(), CondNE
	case bytecode.OpIfICmpLt:
		rhs, lhs, cond = st.pop(), st.pop(), CondLT
	case bytecode.OpIfICmpGe:
		rhs, lhs, cond = st.pop(), st.pop(), CondGE
	case bytecode.OpIfICmpGt:
		rhs, lhs, cond = st.pop(), st.pop(), CondGT
	case bytecode.OpIfICmpLe:
		rhs, lhs, cond = st.pop(), st.pop(), CondLE
	default:
		return nil, fmt.Errorf("hir: unhandled conditional opcode 0x%02x", byte(op))
	}

	target := targetBlock(g, bi, in.Targets()[0])
	stmts := []Stmt{&IfStmt{Cond: cond, Lhs: lhs, Rhs: rhs, Target: target}}
	if in.Next < in.Offset { // unreachable guard; Next is always > Offset in practice
		return stmts, nil
	}
	fall := targetBlock(g, bi, in.Next)
	if fall >= 0 {
		stmts = append(stmts, &GotoStmt{Target: fall})
	}
	return stmts, nil
}

func switchStmt(st *stack, op bytecode.Op, in bytecode.Instr, g *cfa.CFG, bi int) ([]Stmt, error) {
	x := st.pop()
	targets := in.Targets()
	def := targetBlock(g, bi, targets[0])
	sw := &SwitchStmt{X: x, Default: def}
	// targets[1:] line up with ascending keys for tableswitch and with the
	// (key, target) pairs already offset-resolved in Targets() for
	// lookupswitch; recomputing keys mirrors how bytecode.Instr.Targets
	// walks the raw operand table.
	keys, rest := switchKeys(op, in)
	sw.Keys = keys
	for _, t := range rest {
		sw.Targets = append(sw.Targets, targetBlock(g, bi, t))
	}
	sort.Sort(&switchSorter{sw})
	return []Stmt{sw}, nil
}

type switchSorter struct{ sw *SwitchStmt }

func (s *switchSorter) Len() int { return len(s.sw.Keys) }
func (s *switchSorter) Less(i, j int) bool { return s.sw.Keys[i] < s.sw.Keys[j] }
func (s *switchSorter) Swap(i, j int) {
	s.sw.Keys[i], s.sw.Keys[j] = s.sw.Keys[j], s.sw.Keys[i]
	s.sw.Targets[i], s.sw.Targets[j] = s.sw.Targets[j], s.sw.Targets[i]
}

func switchKeys(op bytecode.Op, in bytecode.Instr) (keys []int32, targetOffsets []int) {
	raw := in.Raw
	padStart := 1
	for (in.Offset+padStart)%4 != 0 {
		padStart++
	}
	p := padStart
	if op == bytecode.OpTableSwitch {
		low := be32(raw[p+4:])
		high := be32(raw[p+8:])
		base := p + 12
		for k := low; k <= high; k++ {
			off := be32(raw[base+4*int(k-low):])
			keys = append(keys, k)
			targetOffsets = append(targetOffsets, in.Offset+int(off))
		}
		return
	}
	n := be32(raw[p+4:])
	base := p + 8
	for i := int32(0); i < n; i++ {
		key := be32(raw[base+8*int(i):])
		off := be32(raw[base+8*int(i)+4:])
		keys = append(keys, key)
		targetOffsets = append(targetOffsets, in.Offset+int(off))
	}
	return
}

func be32(b []byte) int32 {
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
