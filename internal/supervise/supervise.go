// Package supervise runs child computations behind a boundary that turns
// panics into errors and lets the caller substitute a fallback.
package supervise

import (
	"fmt"
	"log"

	"github.com/sourcegraph/conc/panics"
)

// PanicError is returned when the supervised function panicked.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Name, e.Value)
}

// Run calls fn and reports any returned error or recovered panic to onError.
// A nil onError logs the failure instead. The failure is also returned.
func Run(name string, fn func() error, onError func(error)) error {
	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = fn()
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = &PanicError{Name: name, Value: recovered.Value, Stack: recovered.Stack}
	}
	if err == nil {
		return nil
	}
	if onError != nil {
		onError(err)
	} else {
		log.Printf("%s failed: %v", name, err)
	}
	return err
}

// Value calls fn and returns its result, or fallback if fn failed or panicked.
func Value[T any](name string, fn func() (T, error), fallback T, onError func(error)) T {
	var result T
	err := Run(name, func() error {
		var err error
		result, err = fn()
		return err
	}, onError)
	if err != nil {
		return fallback
	}
	return result
}

// Do is Run for functions that cannot fail other than by panicking.
func Do(name string, fn func(), onError func(error)) {
	_ = Run(name, func() error {
		fn()
		return nil
	}, onError)
}
