package sink

import (
	"fmt"
	"net/http"
)

// Operation is the entry mutation every event of a sink triggers.
type Operation int

const (
	OperationCreate Operation = iota + 1
	OperationUpdate
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Method returns the HTTP verb that carries the mutation.
func (o Operation) Method() string {
	switch o {
	case OperationCreate:
		return http.MethodPost
	case OperationUpdate:
		return http.MethodPut
	case OperationDelete:
		return http.MethodDelete
	default:
		return ""
	}
}
