// Package rules compiles CEL expressions from entity definition files into tag
// processors and payload validators.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/registry"
)

// TagRule describes a tag with CEL expressions over the entity.
// When decides whether the entity carries the tag; Group and SortValue compute
// the listing partition and order and may be empty.
type TagRule struct {
	Name      string `yaml:"name"`
	When      string `yaml:"when"`
	Group     string `yaml:"group,omitempty"`
	SortValue string `yaml:"sortValue,omitempty"`
}

// ValidationRule rejects payloads for which Expression evaluates to false.
// The expression sees the payload as data and the boolean partial, which is
// true for updates.
type ValidationRule struct {
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

// Compiler compiles rules in one shared CEL environment.
type Compiler struct {
	env *cel.Env
}

// NewCompiler initializes the CEL environment
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Variable("entityType", cel.StringType),
		cel.Variable("entityId", cel.StringType),
		cel.Variable("partial", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

func (c *Compiler) compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return prg, nil
}

// TagProcessor compiles a tag rule. All expressions are compiled up front so
// that a broken definition fails at startup.
func (c *Compiler) TagProcessor(rule TagRule) (registry.TagProcessor, error) {
	if rule.When == "" {
		return nil, fmt.Errorf("tag %s: when is required", rule.Name)
	}
	when, err := c.compile(rule.When)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", rule.Name, err)
	}
	group, err := c.optional(rule.Group)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", rule.Name, err)
	}
	sortValue, err := c.optional(rule.SortValue)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", rule.Name, err)
	}

	return func(e *entity.Entity) ([]entity.Tag, error) {
		vars := map[string]interface{}{
			"data":       e.Data,
			"entityType": e.EntityType,
			"entityId":   e.EntityID,
			"partial":    false,
		}
		matched, err := evalBool(when, vars)
		if err != nil || !matched {
			return nil, err
		}

		tag := entity.Tag{}
		if tag.Group, err = evalString(group, vars); err != nil {
			return nil, err
		}
		if tag.SortValue, err = evalString(sortValue, vars); err != nil {
			return nil, err
		}
		return []entity.Tag{tag}, nil
	}, nil
}

// Validator compiles validation rules into an entity config validator
func (c *Compiler) Validator(rules []ValidationRule) (func(data map[string]interface{}, partial bool) error, error) {
	programs := make([]cel.Program, 0, len(rules))
	for _, rule := range rules {
		prg, err := c.compile(rule.Expression)
		if err != nil {
			return nil, err
		}
		programs = append(programs, prg)
	}

	return func(data map[string]interface{}, partial bool) error {
		vars := map[string]interface{}{
			"data":       data,
			"entityType": "",
			"entityId":   "",
			"partial":    partial,
		}
		for i, prg := range programs {
			ok, err := evalBool(prg, vars)
			if err != nil {
				return fmt.Errorf("%s: %w", rules[i].Message, err)
			}
			if !ok {
				return fmt.Errorf("%s", rules[i].Message)
			}
		}
		return nil
	}, nil
}

func (c *Compiler) optional(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}
	return c.compile(expr)
}

func evalBool(prg cel.Program, vars map[string]interface{}) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return b, nil
}

func evalString(prg cel.Program, vars map[string]interface{}) (string, error) {
	if prg == nil {
		return "", nil
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	switch v := out.Value().(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}
