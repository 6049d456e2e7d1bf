package balance

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// Role is the part a shard plays in balancing.
type Role string

const (
	RoleSource    Role = "source"
	RoleSink      Role = "sink"
	RoleAbsorber  Role = "absorber"
	RoleUntouched Role = "untouched"
)

// Policy names the balancing groups explicitly. Sources give up everything
// above Target; sinks are filled up to Target in order; the absorber, which
// must be one of the sinks, receives whatever is left.
type Policy struct {
	Target   int
	Sources  []int
	Sinks    []int
	Absorber int
}

// Validate checks p against a shard set of the given size.
func (p Policy) Validate(shards int) error {
	if p.Target < 0 {
		return invalid("target count must not be negative, got %d", p.Target)
	}
	if len(p.Sinks) == 0 {
		return invalid("at least one sink shard is required")
	}
	seen := make(map[int]Role, len(p.Sources)+len(p.Sinks))
	for _, group := range []struct {
		role   Role
		shards []int
	}{{RoleSource, p.Sources}, {RoleSink, p.Sinks}} {
		for _, s := range group.shards {
			if s < 0 || s >= shards {
				return invalid("%s shard %d outside 0-%d", group.role, s, shards-1)
			}
			if prev, ok := seen[s]; ok {
				return invalid("shard %d listed as %s and %s", s, prev, group.role)
			}
			seen[s] = group.role
		}
	}
	if seen[p.Absorber] != RoleSink {
		return invalid("absorber shard %d is not a sink", p.Absorber)
	}
	return nil
}

// RoleOf returns the role of shard under p.
func (p Policy) RoleOf(shard int) Role {
	if shard == p.Absorber {
		return RoleAbsorber
	}
	for _, s := range p.Sources {
		if s == shard {
			return RoleSource
		}
	}
	for _, s := range p.Sinks {
		if s == shard {
			return RoleSink
		}
	}
	return RoleUntouched
}

// fillOrder returns the sinks in fill order with the absorber last.
func (p Policy) fillOrder() []int {
	order := make([]int, 0, len(p.Sinks))
	for _, s := range p.Sinks {
		if s != p.Absorber {
			order = append(order, s)
		}
	}
	return append(order, p.Absorber)
}

func invalid(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig, format, args...)
}
