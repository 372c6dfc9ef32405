package expr

import (
	"fmt"
	"strings"
)

// RunScript executes a line-oriented script of the form
//
//	gross = amount * 1.19
//	flag  = gross > 10000
//
// Each line assigns one expression to one name; later lines see earlier
// assignments. Blank lines and lines starting with # are ignored. The
// returned map holds only the assigned names, never the input
// variables.
func RunScript(script string, vars map[string]Value) (map[string]Value, error) {
	scope := make(map[string]Value, len(vars))
	for k, v := range vars {
		scope[k] = v
	}
	out := make(map[string]Value)

	for n, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rhs, err := splitAssignment(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		v, err := Eval(rhs, scope)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		scope[name] = v
		out[name] = v
	}
	return out, nil
}

// splitAssignment finds the assignment "=" while skipping "==", "<=",
// ">=" and "!=".
func splitAssignment(line string) (string, string, error) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			i++ // skip ==
			continue
		}
		if i > 0 {
			switch line[i-1] {
			case '<', '>', '!', '=':
				continue
			}
		}
		name := strings.TrimSpace(line[:i])
		rhs := strings.TrimSpace(line[i+1:])
		if !validName(name) {
			return "", "", fmt.Errorf("invalid assignment target %q", name)
		}
		if rhs == "" {
			return "", "", fmt.Errorf("empty expression for %q", name)
		}
		return name, rhs, nil
	}
	return "", "", fmt.Errorf("not an assignment: %q", line)
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		if i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}
