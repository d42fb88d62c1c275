package normalize

import "fmt"

// Field is the outcome of extracting one optional value. A failed
// extraction is not an error: the field is simply absent and Diag says why.
type Field[T any] struct {
	Value T
	OK    bool
	Diag  string
}

// Present wraps a successfully extracted value
func Present[T any](v T) Field[T] {
	return Field[T]{Value: v, OK: true}
}

// Absent is a field the message does not carry
func Absent[T any]() Field[T] {
	return Field[T]{}
}

// Degraded is a field the message carries but that could not be understood
func Degraded[T any](format string, args ...any) Field[T] {
	return Field[T]{Diag: fmt.Sprintf(format, args...)}
}

// notes collects field diagnostics in extraction order
type notes []string

func (n *notes) record(name, diag string) {
	if diag != "" {
		*n = append(*n, name+": "+diag)
	}
}

func take[T any](n *notes, name string, f Field[T]) T {
	n.record(name, f.Diag)
	return f.Value
}
