package safety

import (
	"errors"
	"fmt"
)

// ErrRejected matches every validation failure via errors.Is.
var ErrRejected = errors.New("query rejected")

// Rejection is implemented by every typed validation error.
type Rejection interface {
	error
	Code() string
	Details() map[string]any
}

type EmptySelectionError struct{}

func (e *EmptySelectionError) Error() string {
	return "query selects nothing: add at least one metric or dimension"
}
func (e *EmptySelectionError) Code() string            { return "EMPTY_SELECTION" }
func (e *EmptySelectionError) Details() map[string]any { return map[string]any{} }
func (e *EmptySelectionError) Is(target error) bool    { return target == ErrRejected }

type UnknownFieldError struct {
	Field        string
	ReferencedAs string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q referenced as %s", e.Field, e.ReferencedAs)
}
func (e *UnknownFieldError) Code() string { return "UNKNOWN_FIELD" }
func (e *UnknownFieldError) Details() map[string]any {
	return map[string]any{"field": e.Field, "referenced_as": e.ReferencedAs}
}
func (e *UnknownFieldError) Is(target error) bool { return target == ErrRejected }

type NonAggregatableFieldError struct {
	Field    string
	Function string
}

func (e *NonAggregatableFieldError) Error() string {
	return fmt.Sprintf("field %q cannot be aggregated with %s", e.Field, e.Function)
}
func (e *NonAggregatableFieldError) Code() string { return "NON_AGGREGATABLE_FIELD" }
func (e *NonAggregatableFieldError) Details() map[string]any {
	return map[string]any{"field": e.Field, "function": e.Function}
}
func (e *NonAggregatableFieldError) Is(target error) bool { return target == ErrRejected }

type OperatorTypeMismatchError struct {
	Field     string
	Operator  string
	FieldType string
}

func (e *OperatorTypeMismatchError) Error() string {
	return fmt.Sprintf("operator %s cannot be applied to %s field %q", e.Operator, e.FieldType, e.Field)
}
func (e *OperatorTypeMismatchError) Code() string { return "OPERATOR_TYPE_MISMATCH" }
func (e *OperatorTypeMismatchError) Details() map[string]any {
	return map[string]any{"field": e.Field, "operator": e.Operator, "field_type": e.FieldType}
}
func (e *OperatorTypeMismatchError) Is(target error) bool { return target == ErrRejected }

type MalformedFilterError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *MalformedFilterError) Error() string {
	return fmt.Sprintf("malformed %s filter on %q: %s", e.Operator, e.Field, e.Reason)
}
func (e *MalformedFilterError) Code() string { return "MALFORMED_FILTER" }
func (e *MalformedFilterError) Details() map[string]any {
	return map[string]any{"field": e.Field, "operator": e.Operator, "reason": e.Reason}
}
func (e *MalformedFilterError) Is(target error) bool { return target == ErrRejected }

type InvalidOrderByError struct {
	Field string
}

func (e *InvalidOrderByError) Error() string {
	return fmt.Sprintf("cannot order by %q: it is neither a selected metric nor a dimension", e.Field)
}
func (e *InvalidOrderByError) Code() string { return "INVALID_ORDER_BY" }
func (e *InvalidOrderByError) Details() map[string]any {
	return map[string]any{"field": e.Field}
}
func (e *InvalidOrderByError) Is(target error) bool { return target == ErrRejected }

type LimitOutOfRangeError struct {
	Limit int
}

func (e *LimitOutOfRangeError) Error() string {
	return fmt.Sprintf("limit %d is outside the allowed range [%d, %d]", e.Limit, minLimit, maxLimit)
}
func (e *LimitOutOfRangeError) Code() string { return "LIMIT_OUT_OF_RANGE" }
func (e *LimitOutOfRangeError) Details() map[string]any {
	return map[string]any{"limit": e.Limit, "min": minLimit, "max": maxLimit}
}
func (e *LimitOutOfRangeError) Is(target error) bool { return target == ErrRejected }

type DuplicateOutputError struct {
	Name string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("output column %q is selected more than once; alias one of them", e.Name)
}
func (e *DuplicateOutputError) Code() string { return "DUPLICATE_OUTPUT_NAME" }
func (e *DuplicateOutputError) Details() map[string]any {
	return map[string]any{"name": e.Name}
}
func (e *DuplicateOutputError) Is(target error) bool { return target == ErrRejected }
