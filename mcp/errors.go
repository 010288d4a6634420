package mcp

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"builderbuddy-backend/core/marketplace"
	mpapi "builderbuddy-backend/middleware/marketplace"
)

// ToolError represents a structured error from tool execution
type ToolError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Tool       string `json:"tool,omitempty"`
	Field      string `json:"field,omitempty"`
	HttpStatus int    `json:"http_status,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Codes for failures raised by the tool layer itself. Marketplace errors
// keep their own codes (OrderNotFound, NotOwner, ...).
const (
	ErrCodeMissingRequired = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidType     = "INVALID_FIELD_TYPE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// NewMissingFieldError reports a required argument that was not supplied.
func NewMissingFieldError(tool, field string) *ToolError {
	return &ToolError{
		Code:       ErrCodeMissingRequired,
		Message:    "missing required argument",
		Tool:       tool,
		Field:      field,
		HttpStatus: 400,
	}
}

// NewTypeError reports an argument of the wrong JSON type.
func NewTypeError(tool, field, expected string) *ToolError {
	return &ToolError{
		Code:       ErrCodeInvalidType,
		Message:    "expected " + expected,
		Tool:       tool,
		Field:      field,
		HttpStatus: 400,
	}
}

// FromError converts err into a ToolError, keeping the marketplace code.
func FromError(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	code := marketplace.CodeOf(err)
	if code == "" {
		code = ErrCodeInternalError
	}
	return &ToolError{
		Code:       code,
		Message:    err.Error(),
		Tool:       tool,
		HttpStatus: mpapi.StatusFor(err),
	}
}

func errorResult(tool string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(FromError(tool, err).Error())
}
