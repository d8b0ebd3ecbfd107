/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package expr compiles the value rewriting rules of the channel catalogue, e.g. a unit
// conversion such as `(value - 32) * 5 / 9`. Expressions see the raw numeric value as
// `value` and the recorded unit as `unit`.
package expr

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

const (
	valueVar = "value"
	unitVar  = "unit"
)

// Program is a compiled numeric expression.
type Program struct {
	source  string
	program *vm.Program
}

// Compile compiles the expression once, so that it can be applied to every row.
func Compile(expression string) (*Program, error) {
	program, err := expr.Compile(expression, expr.Env(getFuncMap(0, "")))
	if err != nil {
		return nil, fmt.Errorf("unable to compile expression '%s': %s", expression, err)
	}
	return &Program{source: expression, program: program}, nil
}

// String returns the source of the program.
func (p *Program) String() string {
	return p.source
}

// Apply evaluates the program for one value.
func (p *Program) Apply(value float64, unit string) (float64, error) {
	result, err := expr.Run(p.program, getFuncMap(value, unit))
	if err != nil {
		return 0, fmt.Errorf("unable to execute expression '%s': %s", p.source, err)
	}
	return toFloat(result)
}
