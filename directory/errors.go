package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// OperationError is a protocol fault: a non-success result code from a
// directory write or search, annotated with the target identifier and the
// attributes involved so the operator can diagnose it. It never aborts
// sibling operations in a batch.
type OperationError struct {
	Op         string
	DN         string
	ResultCode uint16
	Attributes []string
	Err        error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %q failed (result code %d)", e.Op, e.DN, e.ResultCode)
	if len(e.Attributes) > 0 {
		msg += " attributes [" + strings.Join(e.Attributes, ", ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// WrapOperation annotates a directory fault with its operation context,
// lifting the LDAP result code when one is available.
func WrapOperation(op, dn string, attrs []string, err error) error {
	if err == nil {
		return nil
	}

	opErr := &OperationError{
		Op:         op,
		DN:         dn,
		Attributes: attrs,
		Err:        err,
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		opErr.ResultCode = ldapErr.ResultCode
	}
	return opErr
}
