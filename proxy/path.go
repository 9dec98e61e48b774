// Package proxy is the explicit builder API that replaces a dynamic
// attribute-interception façade: Var/Const/Fn/Cls
// accumulate a path of string components and translate the resolved
// terminal (get, set, delete, call, construct, iterate) into the matching
// forward-request opcode and payload grammar, then decode the dispatcher's
// result.
package proxy

import (
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/roadrunner-server/phpbridge/internal/marshal"
	"github.com/roadrunner-server/phpbridge/internal/phperr"
)

// classNamePattern is the character class allowed for namespace/class/
// function components: [A-Za-z0-9_\].
var classNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\\]+$`)

func validateComponent(c string) error {
	if strings.Contains(c, " ") {
		return &phperr.InvalidUsageError{Reason: "path component contains a space: " + c}
	}
	return nil
}

func validateClassComponent(c string) error {
	if !classNamePattern.MatchString(c) {
		return &phperr.InvalidUsageError{Reason: "invalid class/namespace component: " + c}
	}
	return nil
}

// encodeJSON marshals v (already handle-substituted by the caller via
// marshal.Encode where needed) into a JSON string for payload embedding.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// encodeArgs runs the handle-eligible substitution over a call/construct
// argument list, then JSON-encodes it marshalling
// rules applied to payload construction.
func encodeArgs(reg marshal.Registry, args []any) (string, error) {
	data, err := marshal.Encode(reg, args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func joinBackslash(components []string) string {
	return strings.Join(components, "\\")
}
