package contract

import (
	"context"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// ExecStatus is the (code, message) pair the executor returns verbatim.
type ExecStatus struct {
	Code    int32
	Message string
}

// ExecResult is the outcome of running contract bytecode.
type ExecResult struct {
	NewState    string
	ReturnValue string
	Status      ExecStatus
}

// MethodDescription describes one callable contract method.
type MethodDescription struct {
	Name       string
	ReturnType string
	Arguments  []string
}

// Executor is the opaque sandbox that runs contract bytecode. The tracker
// and the transaction flow consume it; its transport lives elsewhere.
type Executor interface {
	ExecuteByteCode(ctx context.Context, caller, target pool.Address, code []ByteCodeObject, state string, method string, params []string, timeout time.Duration) (ExecResult, error)
	ContractMethods(ctx context.Context, code []ByteCodeObject) ([]MethodDescription, error)
	ContractVariables(ctx context.Context, code []ByteCodeObject, state string) (map[string]string, error)
	CompileSourceCode(ctx context.Context, source string) ([]ByteCodeObject, ExecStatus, error)
}
