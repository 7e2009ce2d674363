package policy

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	id "qcgate/pkg/domain"
)

// conditionEnv is the environment rule conditions are compiled and run against.
//
//	principal.roles contains "auditor" && context.value > 1000
type conditionEnv struct {
	Action    string           `expr:"action"`
	Principal conditionSubject `expr:"principal"`
	Context   conditionTarget  `expr:"context"`
}

type conditionSubject struct {
	UserID       string   `expr:"user_id"`
	Roles        []string `expr:"roles"`
	DepartmentID string   `expr:"department_id"`
}

type conditionTarget struct {
	DepartmentID string  `expr:"department_id"`
	CategoryID   string  `expr:"category_id"`
	Value        float64 `expr:"value"`
	HasValue     bool    `expr:"has_value"`
}

func compileCondition(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.Env(conditionEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}
	return program, nil
}

func newConditionEnv(action Action, p id.Principal, ec EvalContext) conditionEnv {
	env := conditionEnv{
		Action: string(action),
		Principal: conditionSubject{
			UserID:       p.UserID.String(),
			Roles:        make([]string, len(p.Roles)),
			DepartmentID: p.DepartmentID.String(),
		},
	}
	for i, r := range p.Roles {
		env.Principal.Roles[i] = string(r)
	}
	if ec.DepartmentID != nil {
		env.Context.DepartmentID = ec.DepartmentID.String()
	}
	if ec.CategoryID != nil {
		env.Context.CategoryID = string(*ec.CategoryID)
	}
	if ec.Value != nil {
		env.Context.Value = *ec.Value
		env.Context.HasValue = true
	}
	return env
}

// conditionCache memoizes compiled programs by source text. Programs are
// immutable, so sharing them across evaluations keeps results deterministic.
type conditionCache struct {
	programs sync.Map // string -> *vm.Program
}

func (c *conditionCache) eval(src string, env conditionEnv) (bool, error) {
	var program *vm.Program
	if cached, ok := c.programs.Load(src); ok {
		program = cached.(*vm.Program)
	} else {
		compiled, err := compileCondition(src)
		if err != nil {
			return false, err
		}
		actual, _ := c.programs.LoadOrStore(src, compiled)
		program = actual.(*vm.Program)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run condition: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
