package selection

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// ExprFilter compiles a CEL expression into a filter. An empty expression
// compiles to a pass-through. Variables exposed per candidate:
//
//	id, tenant, task_type       strings
//	capacity, assigned          ints
//	supported_types             list of strings
//	last_heartbeat_ms, now_ms   ints
//
// Evaluation errors and non-bool results drop the candidate.
func ExprFilter(expr string) (FilterFunc, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func(Candidate) bool { return true }, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("task_type", cel.StringType),
		cel.Variable("capacity", cel.IntType),
		cel.Variable("assigned", cel.IntType),
		cel.Variable("supported_types", cel.ListType(cel.StringType)),
		cel.Variable("last_heartbeat_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return func(c Candidate) bool {
		types := c.Agent.SupportedTypes
		if types == nil {
			types = []string{}
		}
		out, _, err := prog.Eval(map[string]any{
			"id":                c.Agent.ID,
			"tenant":            c.TenantID,
			"task_type":         c.TaskType,
			"capacity":          int64(c.Agent.Capacity),
			"assigned":          int64(c.Agent.Assigned),
			"supported_types":   types,
			"last_heartbeat_ms": c.Agent.LastHeartbeatMs,
			"now_ms":            c.NowMs,
		})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, nil
}
