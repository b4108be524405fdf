// Package hir builds the tree-shaped high-level IR spec.md §3 "High-level
// IR (HIR)" and §4.2 names, by abstract interpretation of a method's
// typed operand stack over its basic blocks. Grounded on the teacher's
// expression/statement tree in std/compiler/ir.go, generalised from
// Go-source AST lowering to stack-machine abstract interpretation.
package hir

import "github.com/gojit/gojit/internal/classfile"

// Expr is a HIR expression node. All Expr implementations are value
// types carrying a VMType so later stages (instruction selection) know
// which register class and width to pick.
type Expr interface {
	Type() classfile.VMType
	isExpr()
}

// Stmt is a HIR statement node: every basic block's HIR is a flat slice
// of Stmt, in program order, per spec.md §3 "a basic block's HIR is a
// flat statement list".
type Stmt interface {
	isStmt()
}

// --- Expressions -----------------------------------------------------

// ConstExpr is a compile-time constant of any vm-type.
type ConstExpr struct {
	VMType classfile.VMType
	IVal   int64
	FVal   float32
	DVal   float64
	IsNull bool
}

func (e *ConstExpr) Type() classfile.VMType { return e.VMType }
func (*ConstExpr) isExpr()                  {}

// LocalExpr reads a local-variable slot.
type LocalExpr struct {
	Slot   int
	VMType classfile.VMType
}

func (e *LocalExpr) Type() classfile.VMType { return e.VMType }
func (*LocalExpr) isExpr()                  {}

// TempExpr reads a block-boundary shared temporary: the HIR builder's
// stand-in for a stack slot that is non-empty at a block's entry
// (spec.md §4.2 "Empty-stack discipline at block boundaries" — every
// predecessor that leaves the stack non-empty at a branch must write the
// same shared temporary).
type TempExpr struct {
	ID     int
	VMType classfile.VMType
}

func (e *TempExpr) Type() classfile.VMType { return e.VMType }
func (*TempExpr) isExpr()                  {}

// BinOp is an arithmetic or bitwise binary operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
)

// BinExpr is a binary arithmetic expression. Div/Rem carry a zero-check
// guard statement ahead of them (see ZeroCheckStmt), never encoded in
// the expression itself, matching spec.md §4.2's division policy.
type BinExpr struct {
	Op        BinOp
	VMType    classfile.VMType
	Lhs, Rhs  Expr
}

func (e *BinExpr) Type() classfile.VMType { return e.VMType }
func (*BinExpr) isExpr()                  {}

// NegExpr negates its operand.
type NegExpr struct {
	VMType classfile.VMType
	X      Expr
}

func (e *NegExpr) Type() classfile.VMType { return e.VMType }
func (*NegExpr) isExpr()                  {}

// CompareExpr is the three-way long/float/double comparison producing an
// int in {-1,0,1}, lowered from lcmp/fcmpl/fcmpg/dcmpl/dcmpg. NanGreater
// selects which of -1/1 a NaN operand should yield, per spec.md §4.2's
// fcmpg/fcmpl distinction.
type CompareExpr struct {
	Lhs, Rhs  Expr
	NanGreater bool
}

func (e *CompareExpr) Type() classfile.VMType { return classfile.TInt }
func (*CompareExpr) isExpr()                  {}

// ConvertExpr widens or narrows a value between vm-types (i2l, l2i, etc).
type ConvertExpr struct {
	From, To classfile.VMType
	X        Expr
}

func (e *ConvertExpr) Type() classfile.VMType { return e.To }
func (*ConvertExpr) isExpr()                  {}

// FieldExpr reads an instance or static field. Base is nil for a static
// read; a non-nil Base implies the null-check described in spec.md §4.2
// "Field access" has already been emitted as a preceding statement.
type FieldExpr struct {
	Base       Expr
	ClassName  string
	FieldName  string
	Descriptor string
	VMType     classfile.VMType
	Static     bool
}

func (e *FieldExpr) Type() classfile.VMType { return e.VMType }
func (*FieldExpr) isExpr()                  {}

// ArrayLoadExpr reads one array element. The null-check and
// bounds-check it requires are separate preceding statements, not part
// of this expression, matching spec.md §4.2 "Array access".
type ArrayLoadExpr struct {
	Array, Index Expr
	ElemType     classfile.VMType
}

func (e *ArrayLoadExpr) Type() classfile.VMType { return e.ElemType }
func (*ArrayLoadExpr) isExpr()                  {}

// ArrayLengthExpr reads an array's length word.
type ArrayLengthExpr struct {
	Array Expr
}

func (e *ArrayLengthExpr) Type() classfile.VMType { return classfile.TInt }
func (*ArrayLengthExpr) isExpr()                  {}

// InvokeKind distinguishes the four invoke forms, each with distinct
// dispatch (spec.md §4.2 "Invoke").
type InvokeKind int

const (
	InvokeStatic InvokeKind = iota
	InvokeSpecial
	InvokeVirtual
	InvokeInterface
)

// InvokeExpr calls a method and yields its return value (Type() is
// TVoid for a void callee, discarded by the caller via an ExprStmt).
type InvokeExpr struct {
	Kind       InvokeKind
	ClassName  string
	MethodName string
	Descriptor string
	Receiver   Expr // nil for InvokeStatic
	Args       []Expr
	RetType    classfile.VMType
	// SigHash is the itable signature hash used for InvokeInterface
	// dispatch (spec.md §4.7.3 "itable stubs").
	SigHash uint32
}

func (e *InvokeExpr) Type() classfile.VMType { return e.RetType }
func (*InvokeExpr) isExpr()                  {}

// NewExpr allocates a fresh instance.
type NewExpr struct {
	ClassName string
}

func (e *NewExpr) Type() classfile.VMType { return classfile.TRef }
func (*NewExpr) isExpr()                  {}

// NewArrayExpr allocates a fresh array of ElemType.
type NewArrayExpr struct {
	Length   Expr
	ElemType classfile.VMType
	ElemClass string // non-empty for anewarray
}

func (e *NewArrayExpr) Type() classfile.VMType { return classfile.TRef }
func (*NewArrayExpr) isExpr()                  {}

// CheckCastExpr asserts X is an instance of ClassName, yielding X
// unchanged or throwing ClassCastException.
type CheckCastExpr struct {
	X         Expr
	ClassName string
}

func (e *CheckCastExpr) Type() classfile.VMType { return classfile.TRef }
func (*CheckCastExpr) isExpr()                  {}

// InstanceOfExpr yields 1/0.
type InstanceOfExpr struct {
	X         Expr
	ClassName string
}

func (e *InstanceOfExpr) Type() classfile.VMType { return classfile.TInt }
func (*InstanceOfExpr) isExpr()                  {}

// --- Statements --------------------------------------------------------

// AssignLocalStmt stores a value into a local-variable slot.
type AssignLocalStmt struct {
	Slot int
	Val  Expr
}

func (*AssignLocalStmt) isStmt() {}

// AssignTempStmt stores a value into a shared block-boundary temporary.
type AssignTempStmt struct {
	ID  int
	Val Expr
}

func (*AssignTempStmt) isStmt() {}

// ExprStmt evaluates an expression for its side effects, discarding the
// result (a void invoke, for instance).
type ExprStmt struct {
	X Expr
}

func (*ExprStmt) isStmt() {}

// StoreFieldStmt writes an instance or static field.
type StoreFieldStmt struct {
	Base       Expr // nil for a static write
	ClassName  string
	FieldName  string
	Descriptor string
	VMType     classfile.VMType
	Static     bool
	Val        Expr
}

func (*StoreFieldStmt) isStmt() {}

// ArrayStoreStmt writes one array element; StoreCheck requests the
// array-store-compatibility check required for reference arrays
// (spec.md §4.2 "Array access" store-check case).
type ArrayStoreStmt struct {
	Array, Index, Val Expr
	ElemType          classfile.VMType
	StoreCheck        bool
}

func (*ArrayStoreStmt) isStmt() {}

// NullCheckStmt throws NullPointerException if X is null.
type NullCheckStmt struct {
	X Expr
}

func (*NullCheckStmt) isStmt() {}

// BoundsCheckStmt throws ArrayIndexOutOfBoundsException if Index is
// outside [0, len(Array)).
type BoundsCheckStmt struct {
	Array, Index Expr
}

func (*BoundsCheckStmt) isStmt() {}

// ZeroCheckStmt throws ArithmeticException if X == 0, guarding int/long
// division and remainder (spec.md §4.2).
type ZeroCheckStmt struct {
	X Expr
}

func (*ZeroCheckStmt) isStmt() {}

// ClassInitGuardStmt ensures ClassName's static initializer has run
// before the following statement touches one of its static fields or
// invokes a static method on it (spec.md §4.7.4).
type ClassInitGuardStmt struct {
	ClassName string
}

func (*ClassInitGuardStmt) isStmt() {}

// MonitorStmt is a monitorenter/monitorexit.
type MonitorStmt struct {
	X      Expr
	Enter  bool
}

func (*MonitorStmt) isStmt() {}

// ThrowStmt throws X, which must not be null (a NullCheckStmt precedes
// it when the verifier cannot prove otherwise).
type ThrowStmt struct {
	X Expr
}

func (*ThrowStmt) isStmt() {}

// ReturnStmt returns X (nil for a void method) from the method.
type ReturnStmt struct {
	X Expr // nil for void
}

func (*ReturnStmt) isStmt() {}

// GotoStmt transfers control unconditionally to Target (a *jit.BasicBlock
// ID, kept as a bare int here to avoid an hir->jit import cycle).
type GotoStmt struct {
	Target int
}

func (*GotoStmt) isStmt() {}

// CondKind is a branch's comparison kind, covering both the single-operand
// if<cond> family (compared against zero or null) and the two-operand
// if_icmp<cond>/if_acmp<cond> family.
type CondKind int

const (
	CondEQ CondKind = iota
	CondNE
	CondLT
	CondGE
	CondGT
	CondLE
)

// IfStmt branches to Target if Lhs <Cond> Rhs holds, else falls through
// to the block's next statement (which is typically a GotoStmt to the
// fallthrough block).
type IfStmt struct {
	Cond        CondKind
	Lhs, Rhs    Expr
	Target      int
}

func (*IfStmt) isStmt() {}

// SwitchStmt lowers tableswitch/lookupswitch: X is compared against each
// Keys[i], branching to Targets[i] on a match or Default otherwise.
type SwitchStmt struct {
	X       Expr
	Keys    []int32
	Targets []int
	Default int
}

func (*SwitchStmt) isStmt() {}
