package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/reveal/internal/ir"
)

// withCode replaces the code of a CUE evaluation error with the code of
// the entry it was found in.
func withCode(code string, err *CompileError) *CompileError {
	if err != nil {
		err.Code = code
	}
	return err
}

func stringField(v cue.Value, name string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", fmt.Errorf("%s is required", name)
	}
	s, err := fv.String()
	if err != nil {
		return "", fmt.Errorf("%s must be a string", name)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must be non-empty", name)
	}
	return s, nil
}

func intField(v cue.Value, name string, minimum int64) (int, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < minimum {
		return 0, fmt.Errorf("%s must be >= %d, got %d", name, minimum, n)
	}
	return int(n), nil
}

// windowField reads a window expression such as "7d", "daily" or "90m".
func windowField(v cue.Value, name string) (time.Duration, error) {
	s, err := stringField(v, name)
	if err != nil {
		return 0, err
	}
	d, err := ir.ParseWindow(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func stringList(v cue.Value, name string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil, fmt.Errorf("%s is required", name)
	}
	list, err := fv.List()
	if err != nil {
		return nil, fmt.Errorf("%s must be a list of element ids", name)
	}
	var out []string
	for i := 0; list.Next(); i++ {
		s, err := list.Value().String()
		if err != nil || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%s[%d] must be a non-empty string", name, i)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s must list at least one element", name)
	}
	return out, nil
}
