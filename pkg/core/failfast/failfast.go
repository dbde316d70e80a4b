// Package failfast turns programmer errors in constructors and wiring code
// into immediate panics. Runtime failures of tasks never go through here.
package failfast

import (
	"fmt"
	"reflect"
)

// If panics with the formatted message if condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// NotNil panics if v is nil, including typed nil pointers, funcs, maps,
// channels and interfaces hidden behind an interface value
func NotNil(v interface{}, name string) {
	if isNil(v) {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
