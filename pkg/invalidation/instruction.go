// Package invalidation applies cache invalidations received from a message feed.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// KeyAttribute and AllAttribute are the message attributes read when a message
// carries no payload.
const (
	KeyAttribute = "key"
	AllAttribute = "all"
)

// ErrEmptyInstruction is returned for a message that names neither a key nor all keys.
var ErrEmptyInstruction = errors.New("invalidation: instruction names no key")

// Invalidator is the part of the query cache the listener drives.
// *query.Cache satisfies it.
type Invalidator interface {
	Invalidate(key string)
	InvalidateAll()
}

// Instruction is one invalidation request. All takes precedence over Key.
type Instruction struct {
	Key string `json:"key,omitempty"`
	All bool   `json:"all,omitempty"`
}

// Apply performs the instruction against inv.
func (in Instruction) Apply(inv Invalidator) {
	if in.All {
		inv.InvalidateAll()
		return
	}
	inv.Invalidate(in.Key)
}

// Decode builds an Instruction from a message payload, falling back to the
// message attributes when the payload is empty.
func Decode(payload []byte, attributes map[string]string) (Instruction, error) {
	var in Instruction
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &in); err != nil {
			return Instruction{}, fmt.Errorf("failed to unmarshal invalidation payload: %w", err)
		}
	} else {
		in.Key = attributes[KeyAttribute]
		if raw, ok := attributes[AllAttribute]; ok {
			all, err := strconv.ParseBool(raw)
			if err != nil {
				return Instruction{}, fmt.Errorf("invalid %q attribute %q: %w", AllAttribute, raw, err)
			}
			in.All = all
		}
	}
	if !in.All && in.Key == "" {
		return Instruction{}, ErrEmptyInstruction
	}
	return in, nil
}
