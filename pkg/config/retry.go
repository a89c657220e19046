package config

import (
	"fmt"
	"strconv"

	"github.com/illmade-knight/go-querycache/pkg/query"
	"gopkg.in/yaml.v3"
)

// Retry is a retry setting written either as a count or as a boolean, where
// true means query.DefaultRetryCount and false means no retries.
type Retry struct {
	Count int
}

// UnmarshalYAML accepts `retry: 2`, `retry: true` and `retry: false`.
func (r *Retry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: retry must be a number or a boolean", node.Line)
	}
	parsed, err := parseRetry(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = parsed
	return nil
}

// MarshalYAML writes the count form.
func (r Retry) MarshalYAML() (interface{}, error) {
	return r.Count, nil
}

func parseRetry(s string) (Retry, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return Retry{Count: n}, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return Retry{}, fmt.Errorf("retry %q is neither a number nor a boolean", s)
	}
	if b {
		return Retry{Count: query.DefaultRetryCount}, nil
	}
	return Retry{}, nil
}
