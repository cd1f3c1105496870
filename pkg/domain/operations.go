package domain

import "fmt"

// Operation is a portal request kind.
type Operation string

const (
	OpCreate  Operation = "create"
	OpFetch   Operation = "fetch"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpExecute Operation = "execute"
)

// ParseOperation validates a wire operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpCreate, OpFetch, OpUpdate, OpDelete, OpExecute:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Hook names the persistence method invoked for a resolved operation.
type Hook string

const (
	HookCreate     Hook = "create"
	HookFetch      Hook = "fetch"
	HookInsert     Hook = "insert"
	HookUpdate     Hook = "update"
	HookDeleteSelf Hook = "delete-self"
	HookDelete     Hook = "delete"
	HookExecute    Hook = "execute"
)

// TransactionalType selects the execution strategy wrapping a hook.
type TransactionalType string

const (
	TxNone        TransactionalType = "none"
	TxAmbient     TransactionalType = "ambient"
	TxDistributed TransactionalType = "distributed"
)
