package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// evalArg evaluates the named stage argument against the input's evaluation
// context, converts it to the wanted cty type and decodes it into target.
// It reports whether the argument was present and non-null.
func evalArg(in *Input, name string, want cty.Type, target any) (bool, error) {
	expr, ok := in.Stage.Arguments[name]
	if !ok {
		return false, nil
	}
	val, diags := expr.Value(in.EvalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("argument %q: %w", name, diags)
	}
	if val.IsNull() {
		return false, nil
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return false, fmt.Errorf("argument %q: cannot convert %s to %s: %w",
			name, val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	if err := gocty.FromCtyValue(converted, target); err != nil {
		return false, fmt.Errorf("argument %q: %w", name, err)
	}
	return true, nil
}

func stringArg(in *Input, name string) (string, bool, error) {
	var s string
	ok, err := evalArg(in, name, cty.String, &s)
	return s, ok, err
}

func stringArgOr(in *Input, name, fallback string) (string, error) {
	s, ok, err := stringArg(in, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return s, nil
}

func requiredStringArg(in *Input, name string) (string, error) {
	s, ok, err := stringArg(in, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	return s, nil
}

// stringListArg returns nil when the argument is absent.
func stringListArg(in *Input, name string) ([]string, error) {
	var list []string
	if _, err := evalArg(in, name, cty.List(cty.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// stringMapArg returns nil when the argument is absent.
func stringMapArg(in *Input, name string) (map[string]string, error) {
	var m map[string]string
	if _, err := evalArg(in, name, cty.Map(cty.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func boolArgOr(in *Input, name string, fallback bool) (bool, error) {
	var b bool
	ok, err := evalArg(in, name, cty.Bool, &b)
	if err != nil {
		return false, err
	}
	if !ok {
		return fallback, nil
	}
	return b, nil
}

// checkArgs rejects arguments outside the executor's accepted set, so typos
// fail the stage instead of being silently ignored.
func checkArgs(in *Input, known ...string) error {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	var unknown []string
	for name := range in.Stage.Arguments {
		if _, ok := allowed[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unsupported arguments: %s", strings.Join(unknown, ", "))
}
