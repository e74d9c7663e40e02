// Package policy holds the operator tunable hooks of a refresh cycle:
// fetch parameter overrides and forced include or exclude lists.
package policy

import (
	"github.com/okian/popstats/internal/domain/model"
)

// ParamsHook adjusts the fetch parameters of a refresh cycle.
type ParamsHook func(model.FetchParams) model.FetchParams

// Identity returns p unchanged.
func Identity(p model.FetchParams) model.FetchParams { return p }

// Defaults returns a hook that replaces non-zero fields with the given values.
func Defaults(lookbackDays, limit int) ParamsHook {
	return func(p model.FetchParams) model.FetchParams {
		if lookbackDays > 0 {
			p.LookbackDays = lookbackDays
		}
		if limit > 0 {
			p.Limit = limit
		}
		return p
	}
}

// Compose applies hooks left to right.
func Compose(hooks ...ParamsHook) ParamsHook {
	return func(p model.FetchParams) model.FetchParams {
		for _, h := range hooks {
			if h != nil {
				p = h(p)
			}
		}
		return p
	}
}

// Policy is the decoded policy file.
type Policy struct {
	LookbackDays int               `yaml:"lookback_days"`
	Limit        int               `yaml:"limit"`
	Include      []string          `yaml:"include"`
	Exclude      []string          `yaml:"exclude"`
	Kinds        map[string]string `yaml:"kinds"`
}

type compiled struct {
	Policy
	include map[string]struct{}
	exclude map[string]struct{}
}

func compile(p Policy) *compiled {
	c := &compiled{
		Policy:  p,
		include: make(map[string]struct{}, len(p.Include)),
		exclude: make(map[string]struct{}, len(p.Exclude)),
	}
	for _, id := range p.Include {
		c.include[id] = struct{}{}
	}
	for _, id := range p.Exclude {
		c.exclude[id] = struct{}{}
	}
	return c
}
