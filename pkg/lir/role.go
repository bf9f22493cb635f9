package lir

// Role is the structural role of an expression. Passes switch on the role
// instead of inspecting concrete operation kinds.
type Role int

const (
	// RoleOp is a plain compute operation (elementwise math, conversions, ...).
	RoleOp Role = iota
	RoleParameter
	RoleResult
	RoleBuffer
	RoleLoopBegin
	RoleLoopEnd
	// RoleShapeInfer ops (Reshape, RankNormalization) only change the view of
	// memory and share the data pointer of their producer.
	RoleShapeInfer
	RoleLoad
	RoleBroadcastLoad
	RoleStore
	RoleScalar
	RoleFill
	RoleVectorBuffer
	RoleHorizonMax
	RoleHorizonSum
	// RoleExternalCall expressions leave the kernel (Brgemm and friends) and
	// need the live registers saved around them.
	RoleExternalCall
	RoleRegSpillBegin
	RoleRegSpillEnd
)

var roleNames = map[Role]string{
	RoleOp:            "Op",
	RoleParameter:     "Parameter",
	RoleResult:        "Result",
	RoleBuffer:        "Buffer",
	RoleLoopBegin:     "LoopBegin",
	RoleLoopEnd:       "LoopEnd",
	RoleShapeInfer:    "ShapeInfer",
	RoleLoad:          "Load",
	RoleBroadcastLoad: "BroadcastLoad",
	RoleStore:         "Store",
	RoleScalar:        "Scalar",
	RoleFill:          "Fill",
	RoleVectorBuffer:  "VectorBuffer",
	RoleHorizonMax:    "HorizonMax",
	RoleHorizonSum:    "HorizonSum",
	RoleExternalCall:  "ExternalCall",
	RoleRegSpillBegin: "RegSpillBegin",
	RoleRegSpillEnd:   "RegSpillEnd",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "Role?"
}

// kindRoles maps operation kind names to their role. Kinds missing from the
// table are plain compute operations.
var kindRoles = map[string]Role{
	"Parameter":         RoleParameter,
	"Result":            RoleResult,
	"Buffer":            RoleBuffer,
	"LoopBegin":         RoleLoopBegin,
	"LoopEnd":           RoleLoopEnd,
	"Reshape":           RoleShapeInfer,
	"RankNormalization": RoleShapeInfer,
	"Load":              RoleLoad,
	"BroadcastLoad":     RoleBroadcastLoad,
	"Store":             RoleStore,
	"Scalar":            RoleScalar,
	"Fill":              RoleFill,
	"VectorBuffer":      RoleVectorBuffer,
	"HorizonMax":        RoleHorizonMax,
	"HorizonSum":        RoleHorizonSum,
	"Brgemm":            RoleExternalCall,
	"ExternalCall":      RoleExternalCall,
	"RegSpillBegin":     RoleRegSpillBegin,
	"RegSpillEnd":       RoleRegSpillEnd,
}

// RoleForKind returns the role of an operation kind name.
func RoleForKind(kind string) Role {
	if r, ok := kindRoles[kind]; ok {
		return r
	}
	return RoleOp
}

// IsHorizonReduce returns true for horizontal max/sum reductions.
func (r Role) IsHorizonReduce() bool {
	return r == RoleHorizonMax || r == RoleHorizonSum
}

// IsLoopMarker returns true for LoopBegin and LoopEnd.
func (r Role) IsLoopMarker() bool {
	return r == RoleLoopBegin || r == RoleLoopEnd
}
