// Package lifecycle sequences validation, driver dispatch and persistence
// for managed resources. Controllers never talk to drivers directly; every
// mutation funnels through this layer so that guards and billing hooks
// apply uniformly.
package lifecycle

import "fmt"

// =============================================================================
// Error Codes
// =============================================================================

const (
	CodeInstanceNotFound      = "instance_not_found"
	CodeBucketNotFound        = "bucket_not_found"
	CodeRegistryNotFound      = "registry_not_found"
	CodeEnvironmentNotFound   = "environment_not_found"
	CodeInstanceProtected     = "instance_protected"
	CodeInstanceDeleted       = "instance_deleted"
	CodeResourceDeleted       = "resource_deleted"
	CodeInstanceAlreadyActive = "instance_already_active"
	CodeInvalidAction         = "invalid_action"
	CodeVirtualMachineMissing = "virtual_machine_not_found"
)

// =============================================================================
// Error Type
// =============================================================================

// Error is a caller-facing failure with a stable machine-readable code.
// Codes survive API serialization so clients can branch without parsing
// message text.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
