package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/core/toolschema"
	"github.com/ConduitPlatform/Conduit-sub006/core/validation"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// ToolCall carries one invocation's arguments and the transport values
// middlewares may read.
type ToolCall struct {
	Arguments map[string]any
	Headers   map[string]string
	Cookies   map[string]string
}

// ToolHandler executes a tool and returns its response body.
type ToolHandler func(ctx context.Context, call ToolCall) (any, error)

// ToolDefinition is a route compiled for agents.
type ToolDefinition struct {
	Name         string
	Title        string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Handler      ToolHandler

	// Module is the owning service. Tools outside the core module start
	// disabled and are enabled per request.
	Module            string
	InitiallyDisabled bool

	RouteKey  string
	validator *toolschema.Validator
	output    *toolschema.Validator
}

// Validate checks args against the input schema.
func (t *ToolDefinition) Validate(args map[string]any) error {
	if t.validator == nil {
		return nil
	}
	if err := t.validator.Validate(args); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// newTool compiles rt into a tool.
func newTool(rt route.Route, name, coreModule string, mws *middleware.Registry) (*ToolDefinition, error) {
	input := toolschema.Input(schema.Capitalize(name)+"Input", rt.URLParams, rt.QueryParams, rt.BodyParams).Marshal()
	validator, err := toolschema.NewValidator(input)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	title := fmt.Sprintf("%s %s", rt.Action, rt.Path)
	desc := rt.Description
	if desc == "" {
		desc = title
	}

	t := &ToolDefinition{
		Name:              name,
		Title:             title,
		Description:       desc,
		InputSchema:       input,
		Handler:           routeHandler(rt, mws),
		Module:            rt.Owner,
		InitiallyDisabled: rt.Owner != coreModule,
		RouteKey:          rt.Key(),
		validator:         validator,
	}
	if out := toolschema.Output(rt.ReturnType.Name, rt.ReturnType.Fields); out != nil {
		t.OutputSchema = out.Marshal()
		if t.output, err = toolschema.NewValidator(t.OutputSchema); err != nil {
			return nil, fmt.Errorf("tool %s output: %w", name, err)
		}
	}
	return t, nil
}

// routeHandler runs a tool call through the same validation, middleware
// and handler path as a REST request. Cookie and redirect instructions
// have no meaning for agents and are dropped.
func routeHandler(rt route.Route, mws *middleware.Registry) ToolHandler {
	return func(ctx context.Context, call ToolCall) (any, error) {
		rc := &schema.RequestContext{
			Headers:     call.Headers,
			Cookies:     call.Cookies,
			Context:     make(map[string]any),
			URLParams:   make(map[string]any),
			QueryParams: make(map[string]any),
			BodyParams:  make(map[string]any),
		}
		for k, v := range call.Arguments {
			switch {
			case has(rt.URLParams, k):
				rc.URLParams[k] = v
			case has(rt.QueryParams, k):
				rc.QueryParams[k] = v
			case rt.Action.HasBody():
				rc.BodyParams[k] = v
			default:
				rc.QueryParams[k] = v
			}
		}
		rc.Path = fillPath(rt.Path, rc.URLParams)
		rc.MergeParams()

		if err := validation.Request(rt.Definition, rc, validation.OptionalURLAndQuery()); err != nil {
			return nil, err
		}
		if err := mws.Run(ctx, rt.Middlewares, rc); err != nil {
			return nil, err
		}
		res, err := rt.Handler(ctx, rc)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	}
}

func has(m schema.Model, name string) bool {
	_, ok := m.Get(name)
	return ok
}

// fillPath substitutes known url params into path.
func fillPath(path string, params map[string]any) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if !strings.HasPrefix(s, ":") {
			continue
		}
		if v, ok := params[s[1:]]; ok && v != nil {
			segs[i] = url.PathEscape(fmt.Sprint(v))
		}
	}
	return strings.Join(segs, "/")
}

// toolResult renders a response body as tool content. Object bodies are
// also returned as structured content.
func toolResult(body any) (*mcpgo.CallToolResult, error) {
	var text string
	switch v := body.(type) {
	case nil:
		text = "{}"
	case string:
		if json.Valid([]byte(v)) {
			text = v
		} else {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			text = string(data)
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}

	res := mcpgo.NewToolResultText(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		res.StructuredContent = obj
	}
	return res, nil
}

// Result renders body as tool content. A tool that declares an output
// schema only returns structured content matching it.
func (t *ToolDefinition) Result(body any) (*mcpgo.CallToolResult, error) {
	res, err := toolResult(body)
	if err != nil || t.output == nil {
		return res, err
	}
	obj, ok := res.StructuredContent.(map[string]any)
	if !ok {
		return nil, &RPCError{Code: CodeToolExecutionFailed, Message: "tool " + t.Name + " returned no structured result"}
	}
	if err := t.output.ValidateResult(obj); err != nil {
		return nil, &RPCError{Code: CodeToolExecutionFailed, Message: err.Error()}
	}
	return res, nil
}
