package lir

import (
	"fmt"

	"github.com/gojit/gojit/internal/classfile"
	"github.com/gojit/gojit/internal/hir"
)

// CU is the minimal surface Select needs from a compilation unit: a vreg
// allocator, the class this method belongs to (for resolving its own
// fields' layout), and a per-block HIR/LIR pair. internal/jit.CU
// satisfies this implicitly; Select takes the interface instead of
// *jit.CU to avoid an lir->jit import cycle (jit already imports lir for
// BasicBlock.LIR).
type CU interface {
	NewVReg() VReg
	Class() *classfile.Class
}

// Block is one basic block's HIR input and LIR output, addressed by the
// same block ID the cfa/jit layers use for branch targets.
type Block struct {
	ID  int
	HIR []hir.Stmt
}

// Select tiles every block's HIR statement list into a flat LIR
// instruction stream, per spec.md §4.3 "Instruction selection": a
// recursive tree-walk that picks one LIR shape per HIR node and threads
// vregs between parent and child. argSlots is the method's argument
// count as internal/jit passes it; Select does not read it.
func Select(cu CU, blocks []Block, argSlots int) (map[int][]Inst, error) {
	out := make(map[int][]Inst, len(blocks))
	for _, b := range blocks {
		sel := &selector{cu: cu, cls: cu.Class(), pos: 0}
		for _, s := range b.HIR {
			if err := sel.stmt(s); err != nil {
				return nil, fmt.Errorf("lir: block %d: %w", b.ID, err)
			}
		}
		out[b.ID] = sel.insns
	}
	return out, nil
}

type selector struct {
	cu    CU
	cls   *classfile.Class // the method currently being selected belongs to this class
	insns []Inst
	pos   int
}

// resolveClass finds the classfile.Class a field/method reference by
// name names: the method's own class in the common case, falling back
// to the global parse-time registry for a reference to another class's
// field (spec.md §4.2 "Field access" does not restrict field access to
// the declaring class).
func (s *selector) resolveClass(name string) (*classfile.Class, error) {
	if s.cls != nil && s.cls.Name == name {
		return s.cls, nil
	}
	if c, ok := classfile.LookupClass(name); ok {
		return c, nil
	}
	return nil, fmt.Errorf("lir: unknown class %q", name)
}

func (s *selector) emit(in Inst) {
	in.Pos = s.pos
	s.pos += 2
	s.insns = append(s.insns, in)
}

func (s *selector) newVReg(kind RegKind) Operand {
	return Reg(s.cu.NewVReg(), kind)
}

func regKindOf(t classfile.VMType) RegKind {
	if t == classfile.TFloat || t == classfile.TDouble {
		return RegXMM
	}
	return RegGPR
}

func (s *selector) stmt(st hir.Stmt) error {
	switch n := st.(type) {
	case *hir.AssignLocalStmt:
		v, err := s.expr(n.Val)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KStoreLocal, Dst: MemLocal(n.Slot), Src1: v})
		return nil

	case *hir.AssignTempStmt:
		v, err := s.expr(n.Val)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KStoreLocal, Dst: MemLocal(tempSlot(n.ID)), Src1: v})
		return nil

	case *hir.ExprStmt:
		_, err := s.expr(n.X)
		return err

	case *hir.StoreFieldStmt:
		v, err := s.expr(n.Val)
		if err != nil {
			return err
		}
		class, err := s.resolveClass(n.ClassName)
		if err != nil {
			return err
		}
		if n.Static {
			key, err := class.StaticFieldKey(n.FieldName)
			if err != nil {
				return err
			}
			s.emit(Inst{Kind: KClassInitGuard, Target: "runtime.classInitGuard:" + n.ClassName})
			s.emit(Inst{Kind: KStoreStatic, Src1: v, Target: key})
			return nil
		}
		base, err := s.expr(n.Base)
		if err != nil {
			return err
		}
		off, err := class.InstanceFieldOffset(n.FieldName)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KStoreMem, Dst: MemBase(base.VReg, off), Src1: v})
		return nil

	case *hir.ArrayStoreStmt:
		arr, err := s.expr(n.Array)
		if err != nil {
			return err
		}
		idx, err := s.expr(n.Index)
		if err != nil {
			return err
		}
		v, err := s.expr(n.Val)
		if err != nil {
			return err
		}
		if n.StoreCheck {
			s.emit(Inst{Kind: KArrayStoreCheck, Src1: arr, Src2: v, Target: "runtime.arrayStoreCheck"})
		}
		s.emit(Inst{Kind: KStoreMem, Dst: MemIndex(arr.VReg, idx.VReg, elemScale(n.ElemType)), Src1: v})
		return nil

	case *hir.NullCheckStmt:
		v, err := s.expr(n.X)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KNullCheck, Src1: v, Target: "runtime.nullCheck"})
		return nil

	case *hir.BoundsCheckStmt:
		arr, err := s.expr(n.Array)
		if err != nil {
			return err
		}
		idx, err := s.expr(n.Index)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KBoundsCheck, Src1: arr, Src2: idx, Target: "runtime.boundsCheck"})
		return nil

	case *hir.ZeroCheckStmt:
		v, err := s.expr(n.X)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KZeroCheck, Src1: v, Target: "runtime.zeroCheck"})
		return nil

	case *hir.ClassInitGuardStmt:
		s.emit(Inst{Kind: KClassInitGuard, Target: "runtime.classInitGuard:" + n.ClassName})
		return nil

	case *hir.MonitorStmt:
		v, err := s.expr(n.X)
		if err != nil {
			return err
		}
		k := KMonitorExit
		target := "runtime.monitorExit"
		if n.Enter {
			k = KMonitorEnter
			target = "runtime.monitorEnter"
		}
		s.emit(Inst{Kind: k, Src1: v, Target: target})
		return nil

	case *hir.ThrowStmt:
		v, err := s.expr(n.X)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KThrow, Src1: v, Target: "runtime.throw"})
		return nil

	case *hir.ReturnStmt:
		if n.X == nil {
			s.emit(Inst{Kind: KReturn})
			return nil
		}
		v, err := s.expr(n.X)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KReturn, Src1: v})
		return nil

	case *hir.GotoStmt:
		s.emit(Inst{Kind: KJump, Dst: BranchTarget(n.Target)})
		return nil

	case *hir.IfStmt:
		lhs, err := s.expr(n.Lhs)
		if err != nil {
			return err
		}
		rhs, err := s.expr(n.Rhs)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KCmp, Src1: lhs, Src2: rhs})
		s.emit(Inst{Kind: KBranchCC, Dst: BranchTarget(n.Target), Imm: int(n.Cond)})
		return nil

	case *hir.SwitchStmt:
		x, err := s.expr(n.X)
		if err != nil {
			return err
		}
		s.emit(Inst{Kind: KTableJump, Src1: x, Dst: BranchTarget(n.Default)})
		for _, t := range n.Targets {
			s.emit(Inst{Kind: KLabel, Dst: BranchTarget(t)})
		}
		return nil
	}
	return fmt.Errorf("lir: unhandled statement %T", st)
}

func (s *selector) expr(e hir.Expr) (Operand, error) {
	switch n := e.(type) {
	case *hir.ConstExpr:
		dst := s.newVReg(regKindOf(n.VMType))
		s.emit(Inst{Kind: KMoveImm, Dst: dst, Src1: Imm(n.IVal)})
		return dst, nil

	case *hir.LocalExpr:
		dst := s.newVReg(regKindOf(n.VMType))
		s.emit(Inst{Kind: KLoadLocal, Dst: dst, Src1: MemLocal(n.Slot)})
		return dst, nil

	case *hir.TempExpr:
		dst := s.newVReg(regKindOf(n.VMType))
		s.emit(Inst{Kind: KLoadLocal, Dst: dst, Src1: MemLocal(tempSlot(n.ID))})
		return dst, nil

	case *hir.BinExpr:
		lhs, err := s.expr(n.Lhs)
		if err != nil {
			return Operand{}, err
		}
		rhs, err := s.expr(n.Rhs)
		if err != nil {
			return Operand{}, err
		}
		return s.binOp(n.Op, n.VMType, lhs, rhs)

	case *hir.NegExpr:
		v, err := s.expr(n.X)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(regKindOf(n.VMType))
		s.emit(Inst{Kind: KNeg, Dst: dst, Src1: v})
		return dst, nil

	case *hir.CompareExpr:
		lhs, err := s.expr(n.Lhs)
		if err != nil {
			return Operand{}, err
		}
		rhs, err := s.expr(n.Rhs)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KCmp, Src1: lhs, Src2: rhs})
		s.emit(Inst{Kind: KSetCC, Dst: dst})
		return dst, nil

	case *hir.ConvertExpr:
		v, err := s.expr(n.X)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(regKindOf(n.To))
		k := convertKind(n.From, n.To)
		s.emit(Inst{Kind: k, Dst: dst, Src1: v})
		return dst, nil

	case *hir.FieldExpr:
		dst := s.newVReg(regKindOf(n.VMType))
		class, err := s.resolveClass(n.ClassName)
		if err != nil {
			return Operand{}, err
		}
		if n.Static {
			key, err := class.StaticFieldKey(n.FieldName)
			if err != nil {
				return Operand{}, err
			}
			s.emit(Inst{Kind: KClassInitGuard, Target: "runtime.classInitGuard:" + n.ClassName})
			s.emit(Inst{Kind: KLoadStatic, Dst: dst, Target: key})
			return dst, nil
		}
		base, err := s.expr(n.Base)
		if err != nil {
			return Operand{}, err
		}
		off, err := class.InstanceFieldOffset(n.FieldName)
		if err != nil {
			return Operand{}, err
		}
		s.emit(Inst{Kind: KLoadMem, Dst: dst, Src1: MemBase(base.VReg, off)})
		return dst, nil

	case *hir.ArrayLoadExpr:
		arr, err := s.expr(n.Array)
		if err != nil {
			return Operand{}, err
		}
		idx, err := s.expr(n.Index)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(regKindOf(n.ElemType))
		s.emit(Inst{Kind: KLoadMem, Dst: dst, Src1: MemIndex(arr.VReg, idx.VReg, elemScale(n.ElemType))})
		return dst, nil

	case *hir.ArrayLengthExpr:
		arr, err := s.expr(n.Array)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KLoadMem, Dst: dst, Src1: MemBase(arr.VReg, arrayLengthOffset)})
		return dst, nil

	case *hir.InvokeExpr:
		return s.invoke(n)

	case *hir.NewExpr:
		dst := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KCall, Dst: dst, CallClobbersAll: true, Target: "runtime.allocObject:" + n.ClassName})
		return dst, nil

	case *hir.NewArrayExpr:
		length, err := s.expr(n.Length)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KCall, Dst: dst, Src1: length, CallClobbersAll: true, Target: "runtime.allocArray"})
		return dst, nil

	case *hir.CheckCastExpr:
		v, err := s.expr(n.X)
		if err != nil {
			return Operand{}, err
		}
		s.emit(Inst{Kind: KCall, Src1: v, CallClobbersAll: true, Target: "runtime.checkCast:" + n.ClassName})
		return v, nil

	case *hir.InstanceOfExpr:
		v, err := s.expr(n.X)
		if err != nil {
			return Operand{}, err
		}
		dst := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KCall, Dst: dst, Src1: v, CallClobbersAll: true, Target: "runtime.instanceOf:" + n.ClassName})
		return dst, nil
	}
	return Operand{}, fmt.Errorf("lir: unhandled expression %T", e)
}

func (s *selector) binOp(op hir.BinOp, t classfile.VMType, lhs, rhs Operand) (Operand, error) {
	float := t == classfile.TFloat || t == classfile.TDouble
	dst := s.newVReg(regKindOf(t))
	switch op {
	case hir.OpAdd:
		k := KAdd
		if float && t == classfile.TFloat {
			k = KAddSS
		} else if float {
			k = KAddSD
		}
		s.emit(Inst{Kind: k, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpSub:
		k := KSub
		if float && t == classfile.TFloat {
			k = KSubSS
		} else if float {
			k = KSubSD
		}
		s.emit(Inst{Kind: k, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpMul:
		k := KIMul
		if float && t == classfile.TFloat {
			k = KMulSS
		} else if float {
			k = KMulSD
		}
		s.emit(Inst{Kind: k, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpDiv:
		k := KIDiv
		if float && t == classfile.TFloat {
			k = KDivSS
		} else if float {
			k = KDivSD
		}
		s.emit(Inst{Kind: k, Dst: dst, Src1: lhs, Src2: rhs, FixedClobbers: []int{regXAX, regXDX}})
	case hir.OpRem:
		s.emit(Inst{Kind: KIDiv, Dst: dst, Src1: lhs, Src2: rhs, FixedClobbers: []int{regXAX, regXDX}})
	case hir.OpAnd:
		s.emit(Inst{Kind: KAnd, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpOr:
		s.emit(Inst{Kind: KOr, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpXor:
		s.emit(Inst{Kind: KXor, Dst: dst, Src1: lhs, Src2: rhs})
	case hir.OpShl:
		s.emit(Inst{Kind: KShl, Dst: dst, Src1: lhs, Src2: rhs, FixedClobbers: []int{regXCX}})
	case hir.OpShr:
		s.emit(Inst{Kind: KShr, Dst: dst, Src1: lhs, Src2: rhs, FixedClobbers: []int{regXCX}})
	case hir.OpUshr:
		s.emit(Inst{Kind: KShr, Dst: dst, Src1: lhs, Src2: rhs, FixedClobbers: []int{regXCX}})
	default:
		return Operand{}, fmt.Errorf("lir: unhandled binop %v", op)
	}
	return dst, nil
}

func (s *selector) invoke(n *hir.InvokeExpr) (Operand, error) {
	fullName := n.ClassName + "." + n.MethodName + n.Descriptor
	if n.Kind == hir.InvokeStatic {
		s.emit(Inst{Kind: KClassInitGuard, Target: "runtime.classInitGuard:" + n.ClassName})
	}
	var recv Operand
	if n.Receiver != nil {
		var err error
		recv, err = s.expr(n.Receiver)
		if err != nil {
			return Operand{}, err
		}
	}
	args := make([]Operand, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := s.expr(a)
		if err != nil {
			return Operand{}, err
		}
		args = append(args, v)
	}
	for _, a := range args {
		s.emit(Inst{Kind: KPush, Src1: a})
	}
	kind := KCall
	target := fullName
	callSrc := recv
	if n.Kind == hir.InvokeVirtual || n.Kind == hir.InvokeInterface {
		kind = KCallIndirect
		// The itable stub this resolves through is keyed by SigHash, not a
		// fixed FullName; load the stub's entry point out of the
		// receiver's header word (offset 0, the vtable pointer every
		// instance carries ahead of its declared fields per
		// classfile.headerSize) before calling through it, rather than
		// indirect-calling the receiver pointer itself.
		stub := s.newVReg(RegGPR)
		s.emit(Inst{Kind: KLoadMem, Dst: stub, Src1: MemBase(recv.VReg, 0)})
		callSrc = stub
		target = fmt.Sprintf("itable:%08x", n.SigHash)
	}
	var dst Operand
	if n.RetType != classfile.TVoid {
		dst = s.newVReg(regKindOf(n.RetType))
	}
	s.emit(Inst{Kind: kind, Dst: dst, Src1: callSrc, CallClobbersAll: true, Target: target})
	s.emit(Inst{Kind: KExceptionPoll, Target: "runtime.exceptionPoll"})
	return dst, nil
}

func convertKind(from, to classfile.VMType) Kind {
	switch {
	case to == classfile.TFloat && from != classfile.TFloat:
		return KCvtSI2SS
	case to == classfile.TDouble && from != classfile.TDouble:
		return KCvtSI2SD
	case from == classfile.TFloat && to != classfile.TFloat:
		return KCvtSS2SI
	case from == classfile.TDouble && to != classfile.TDouble:
		return KCvtSD2SI
	default:
		return KMove
	}
}

func elemScale(t classfile.VMType) int {
	if t.Wide() || t == classfile.TRef {
		return 8
	}
	return 4
}

const arrayLengthOffset = -4 // array header's length word, grounded on §4.2's array-access layout note

// tempSlot maps a shared block-boundary temporary id to a dedicated
// frame-local slot, offset past the method's declared locals so it never
// aliases a real local-variable index.
func tempSlot(id int) int { return 1_000_000 + id }

// Fixed machine-register numbers pre-coloured for division/shift, shared
// with internal/codegen's register numbering (0=AX spec.md's x86
// encoding tables use throughout).
const (
	regXAX = 0
	regXCX = 1
	regXDX = 2
)
