// Package filter narrows the aggregated dataset with a CEL predicate.
//
// The expression sees one variable, member, a map with the retained column
// names as keys:
//
//	member.roles == "Global Administrator" && !member.userPrincipalName.endsWith("#EXT#@contoso.onmicrosoft.com")
package filter

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/lsm/rolewatch/internal/dataset"
)

// Filter keeps the member records its expression accepts.
type Filter struct {
	expr    string
	program cel.Program
}

// New compiles expression. The expression must evaluate to a bool.
func New(expression string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("member", cel.MapType(cel.StringType, cel.StringType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel filter must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return &Filter{expr: expression, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match reports whether r passes the filter.
func (f *Filter) Match(r dataset.MemberRecord) (bool, error) {
	member := make(map[string]string, len(dataset.Columns))
	for i, v := range r.Values() {
		member[dataset.Columns[i]] = v
	}
	out, _, err := f.program.Eval(map[string]any{"member": member})
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("cel filter returned %s", out.Type())
	}
	return bool(b), nil
}

// Apply returns the records that pass the filter, preserving order.
func (f *Filter) Apply(ctx context.Context, records []dataset.MemberRecord) ([]dataset.MemberRecord, error) {
	out := make([]dataset.MemberRecord, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := f.Match(r)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", r.UserPrincipalName, err)
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
