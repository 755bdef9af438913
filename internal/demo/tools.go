// Package demo holds the sample tools served by the toolserve command.
package demo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/skosovsky/toolserve"
)

type AddArgs struct {
	A int `json:"a" description:"first addend"`
	B int `json:"b" description:"second addend"`
}

type CalcArgs struct {
	Expression string             `json:"expression" description:"arithmetic or boolean expression, e.g. (x + 2) * 3"`
	Variables  map[string]float64 `json:"variables,omitempty" description:"values of the variables used in the expression"`
}

type CalcResult struct {
	Expression string `json:"expression"`
	Value      any    `json:"value"`
}

type GreetArgs struct {
	UserID string `json:"user_id" inject:"user_id"`
	Name   string `json:"name" description:"who to greet"`
	Locale string `json:"locale,omitempty" inject:"locale,optional"`
}

// Tools returns a fresh set of demo tools.
func Tools() ([]*toolserve.Tool, error) {
	builders := []func() (*toolserve.Tool, error){
		addTool, calculateTool, greetTool, sleepTool, echoOrderTool, areaTool,
	}
	out := make([]*toolserve.Tool, 0, len(builders))
	for _, build := range builders {
		t, err := build()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Registry returns a registry holding the demo tools.
func Registry() (*toolserve.Registry, error) {
	tools, err := Tools()
	if err != nil {
		return nil, err
	}
	reg := toolserve.NewRegistry()
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func addTool() (*toolserve.Tool, error) {
	return toolserve.NewTool("add", "Add two integers", func(_ context.Context, in AddArgs) (int, error) {
		return in.A + in.B, nil
	}, toolserve.WithProfiles("math"), toolserve.WithTimeout(5*time.Second))
}

func calculateTool() (*toolserve.Tool, error) {
	return toolserve.NewTool("calculate", "Evaluate an arithmetic expression",
		func(_ context.Context, in CalcArgs) (CalcResult, error) {
			expr, err := govaluate.NewEvaluableExpression(in.Expression)
			if err != nil {
				return CalcResult{}, invalid("expression %q: %v", in.Expression, err)
			}
			params := make(map[string]any, len(in.Variables))
			for k, v := range in.Variables {
				params[k] = v
			}
			value, err := expr.Evaluate(params)
			if err != nil {
				return CalcResult{}, invalid("evaluate %q: %v", in.Expression, err)
			}
			if f, ok := value.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
				return CalcResult{}, invalid("expression %q has no finite value", in.Expression)
			}
			return CalcResult{Expression: in.Expression, Value: value}, nil
		}, toolserve.WithProfiles("math"), toolserve.WithTimeout(5*time.Second))
}

func greetTool() (*toolserve.Tool, error) {
	return toolserve.NewTool("greet", "Greet the current user by name",
		func(_ context.Context, in GreetArgs) (string, error) {
			if in.Locale == "es" {
				return fmt.Sprintf("Hola %s (%s)", in.Name, in.UserID), nil
			}
			return fmt.Sprintf("Hello %s (%s)", in.Name, in.UserID), nil
		}, toolserve.WithProfiles("social"))
}

func sleepTool() (*toolserve.Tool, error) {
	return toolserve.NewFuncTool("sleep", "Wait for the given number of seconds", []toolserve.Param{
		{Name: "seconds", Type: toolserve.Number(), Description: "how long to wait"},
	}, func(ctx context.Context, args toolserve.Args) (any, error) {
		d := time.Duration(args.Float("seconds") * float64(time.Second))
		select {
		case <-time.After(d):
			return fmt.Sprintf("slept %s", d), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, toolserve.WithProfiles("debug"), toolserve.WithTimeout(10*time.Second))
}

func echoOrderTool() (*toolserve.Tool, error) {
	item := toolserve.Object(
		toolserve.Field{Name: "sku", Type: toolserve.String()},
		toolserve.Field{Name: "qty", Type: toolserve.Integer(), Default: 1, HasDefault: true},
	)
	return toolserve.NewFuncTool("echo_order", "Record an order for asynchronous processing", []toolserve.Param{
		{Name: "user_id", Type: toolserve.String(), Inject: toolserve.Inject("user_id")},
		{Name: "order_id", Type: toolserve.String()},
		{Name: "items", Type: toolserve.ArrayOf(item)},
		{Name: "priority", Type: toolserve.Enum("low", "normal", "high"), Default: "normal", HasDefault: true},
	}, func(_ context.Context, args toolserve.Args) (any, error) {
		items, _ := args.Get("items")
		return map[string]any{
			"user_id":  args.String("user_id"),
			"order_id": args.String("order_id"),
			"items":    items,
			"priority": args.String("priority"),
		}, nil
	}, toolserve.WithProfiles("orders"), toolserve.WithFireAndForget())
}

func areaTool() (*toolserve.Tool, error) {
	shape := toolserve.TaggedUnion("kind",
		toolserve.Variant{Tag: "circle", Fields: []toolserve.Field{
			{Name: "radius", Type: toolserve.Number()},
		}},
		toolserve.Variant{Tag: "rect", Fields: []toolserve.Field{
			{Name: "width", Type: toolserve.Number()},
			{Name: "height", Type: toolserve.Number()},
		}},
	)
	return toolserve.NewFuncTool("area", "Compute the area of a shape", []toolserve.Param{
		{Name: "shape", Type: shape},
	}, func(_ context.Context, args toolserve.Args) (any, error) {
		var in struct {
			Shape struct {
				Kind   string  `json:"kind"`
				Radius float64 `json:"radius"`
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
			} `json:"shape"`
		}
		if err := args.Decode(&in); err != nil {
			return nil, err
		}
		switch in.Shape.Kind {
		case "circle":
			return math.Pi * in.Shape.Radius * in.Shape.Radius, nil
		case "rect":
			return in.Shape.Width * in.Shape.Height, nil
		}
		return nil, invalid("unknown shape %q", in.Shape.Kind)
	}, toolserve.WithProfiles("math"))
}

func invalid(format string, args ...any) error {
	return &toolserve.ClientError{
		Type:   toolserve.ErrorTypeValidation,
		Reason: fmt.Sprintf(format, args...),
		Err:    toolserve.ErrValidation,
	}
}
