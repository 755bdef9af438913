// Package toolserve exposes ordinary Go functions as remotely callable tools for AI agents.
//
// # Overview
//
// A tool is a handler plus a declared parameter list. Each parameter is either visible to the
// caller (and to the LLM behind it) or injected from a per-call context map by the server
// (user ids, tenant keys, credentials). The visible parameters form a JSON Schema that is both
// advertised to clients and used to validate incoming arguments.
//
// Pipeline: []Param or argument struct → Derive (schema + injection list) → Tool → Registry →
// Engine.Call (check context, validate, merge, dispatch directly or durably) → CallResponse.
//
// # Key concepts
//
//   - Closed type set: String, Integer, Number, Boolean, AnyValue, ArrayOf, MapOf, Optional,
//     Enum, AnyOf, TaggedUnion and Object build the schema tree. ParamsFromStruct maps Go
//     structs onto the same set.
//   - Injection: a Param with Inject set is removed from the schema; a missing required context
//     key is a missing_context failure, never a type error.
//   - Ordering: an injected parameter without a default must come before every visible
//     parameter that has one. Violations fail at NewTool time with ErrParamOrder.
//   - Envelope: every call, including unknown tools and timeouts, yields a CallResponse with one
//     of five error types; full error detail goes to the log only.
//   - Duplicates: Registry.Register rejects a second tool with the same name (ErrDuplicateTool).
//
// # Example
//
//	greet := toolserve.Must(toolserve.NewFuncTool("greet", "Greet a user", []toolserve.Param{
//	    {Name: "name", Type: toolserve.String()},
//	    {Name: "user_id", Type: toolserve.String(), Inject: toolserve.Inject("user_id")},
//	}, func(_ context.Context, a toolserve.Args) (any, error) {
//	    return "Hello " + a.String("name") + " from " + a.String("user_id"), nil
//	}, toolserve.WithProfiles("base")))
//	reg := toolserve.NewRegistry()
//	reg.MustRegister(greet)
//	resp := toolserve.NewEngine(reg).Call(ctx, toolserve.CallRequest{
//	    ToolName:  "greet",
//	    Arguments: map[string]any{"name": "Ana"},
//	    Context:   map[string]any{"user_id": "u1"},
//	})
package toolserve
