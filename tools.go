// Package mcpclickhouse provides the plumbing shared by the MCP server and
// CLI front ends: typed tool conversion, configuration, and context
// propagation of the ClickHouse query gateway.
package mcpclickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Tool is a tool definition together with its handler, ready to register
// with an MCP server or collect into a CLI registry.
type Tool struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// ToolAdder is anything tools can be registered with. Both
// *server.MCPServer and *ToolCollector satisfy it.
type ToolAdder interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// Register adds the Tool to the given ToolAdder, allowing fluent
// registration in a single statement:
// mcpclickhouse.MustTool(name, description, handler).Register(srv)
func (t *Tool) Register(adder ToolAdder) {
	adder.AddTool(t.Tool, t.Handler)
}

// HardError wraps an error that should propagate as a JSON-RPC protocol
// error instead of being converted to a CallToolResult with IsError=true.
// Use sparingly, for non-recoverable failures such as missing
// configuration.
type HardError struct {
	Err error
}

func (e *HardError) Error() string {
	return e.Err.Error()
}

func (e *HardError) Unwrap() error {
	return e.Err
}

// ToolHandlerFunc is the shape of a typed tool handler. T is the request
// parameter struct (documented with jsonschema tags); R is the response,
// which may be a string, a struct, or a *mcp.CallToolResult.
type ToolHandlerFunc[T any, R any] = func(ctx context.Context, request T) (R, error)

// MustTool converts a typed handler into a Tool, panicking on conversion
// failure. Conversion errors are programming mistakes, so MustTool is the
// right choice for package-level tool definitions.
func MustTool[T any, R any](
	name, description string,
	toolHandler ToolHandlerFunc[T, R],
	options ...mcp.ToolOption,
) Tool {
	tool, handler, err := ConvertTool(name, description, toolHandler, options...)
	if err != nil {
		panic(err)
	}
	return Tool{Tool: tool, Handler: handler}
}

// ConvertTool turns a typed handler into an mcp.Tool plus a generic
// server.ToolHandlerFunc. The input schema is reflected from the handler's
// parameter struct, and the produced handler wraps every call in an
// OpenTelemetry span following the MCP semantic conventions.
func ConvertTool[T any, R any](name, description string, toolHandler ToolHandlerFunc[T, R], options ...mcp.ToolOption) (mcp.Tool, server.ToolHandlerFunc, error) {
	zero := mcp.Tool{}
	handlerValue := reflect.ValueOf(toolHandler)
	handlerType := handlerValue.Type()
	if handlerType.Kind() != reflect.Func {
		return zero, nil, errors.New("tool handler must be a function")
	}
	if handlerType.NumIn() != 2 || handlerType.NumOut() != 2 {
		return zero, nil, errors.New("tool handler must take (context.Context, T) and return (R, error)")
	}
	if handlerType.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		return zero, nil, errors.New("tool handler first argument must be context.Context")
	}
	if handlerType.Out(1).Kind() != reflect.Interface {
		return zero, nil, errors.New("tool handler second return value must be error")
	}

	argType := handlerType.In(1)
	if argType.Kind() != reflect.Struct {
		return zero, nil, errors.New("tool handler second argument must be a struct")
	}

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		config := ConfigFromContext(ctx)

		ctx = extractTraceContext(ctx, request)

		ctx, span := otel.Tracer(tracerName).Start(ctx,
			fmt.Sprintf("tools/call %s", name),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		span.SetAttributes(
			semconv.GenAIToolName(name),
			attribute.String("mcp.method.name", "tools/call"),
		)
		if session := server.ClientSessionFromContext(ctx); session != nil {
			span.SetAttributes(semconv.McpSessionID(session.SessionID()))
		}

		argBytes, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal arguments")
			return nil, fmt.Errorf("marshal args: %w", err)
		}

		// Arguments may contain query text or credentials, so they only
		// land on the span when explicitly enabled.
		if config.IncludeArgumentsInSpans {
			span.SetAttributes(attribute.String("gen_ai.tool.call.arguments", string(argBytes)))
		}

		args := reflect.New(argType)
		if err := json.Unmarshal(argBytes, args.Interface()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to unmarshal arguments")
			return nil, fmt.Errorf("unmarshal args: %s", err)
		}

		output := handlerValue.Call([]reflect.Value{reflect.ValueOf(ctx), args.Elem()})

		if handlerErr := errorFromReturn(output[1]); handlerErr != nil {
			span.RecordError(handlerErr)
			span.SetStatus(codes.Error, handlerErr.Error())
			span.SetAttributes(semconv.ErrorType(handlerErr))
			var hardErr *HardError
			if errors.As(handlerErr, &hardErr) {
				return nil, hardErr.Err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.TextContent{Type: "text", Text: handlerErr.Error()},
				},
				IsError: true,
			}, nil
		}

		span.SetStatus(codes.Ok, "tool execution completed")
		return convertResult(output[0])
	}

	schemaBytes, err := marshalInputSchema(toolHandler)
	if err != nil {
		return zero, nil, err
	}

	t := mcp.Tool{
		Name:           name,
		Description:    description,
		RawInputSchema: schemaBytes,
	}
	for _, option := range options {
		option(&t)
	}
	return t, handler, nil
}

const tracerName = "mcp-clickhouse"

// errorFromReturn extracts the error from a handler's second return value.
func errorFromReturn(v reflect.Value) error {
	if v.Kind() != reflect.Interface || v.IsNil() {
		return nil
	}
	err, ok := v.Interface().(error)
	if !ok {
		return errors.New("tool handler second return value must be error")
	}
	return err
}

// convertResult maps a handler's first return value to a CallToolResult:
// an existing result passes through, strings become text content, and
// anything else is marshalled to JSON. Nil and empty-string results become
// a nil result.
func convertResult(v reflect.Value) (*mcp.CallToolResult, error) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil, nil
		}
	}

	returnVal := v.Interface()

	if callResult, ok := returnVal.(*mcp.CallToolResult); ok {
		return callResult, nil
	}
	if callResult, ok := returnVal.(mcp.CallToolResult); ok {
		return &callResult, nil
	}

	if str, ok := returnVal.(string); ok {
		if str == "" {
			return nil, nil
		}
		return mcp.NewToolResultText(str), nil
	}
	if strPtr, ok := returnVal.(*string); ok {
		if *strPtr == "" {
			return nil, nil
		}
		return mcp.NewToolResultText(*strPtr), nil
	}

	returnBytes, err := json.Marshal(returnVal)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal return value: %s", err)
	}
	return mcp.NewToolResultText(string(returnBytes)), nil
}

// extractTraceContext reads W3C trace headers (traceparent/tracestate)
// from the request's _meta so the tool span joins the caller's trace.
func extractTraceContext(ctx context.Context, request mcp.CallToolRequest) context.Context {
	if request.Params.Meta == nil {
		return ctx
	}
	fields := request.Params.Meta.AdditionalFields
	if len(fields) == 0 {
		return ctx
	}
	carrier := make(http.Header)
	if tp, ok := fields["traceparent"].(string); ok && tp != "" {
		carrier.Set("traceparent", tp)
	}
	if ts, ok := fields["tracestate"].(string); ok && ts != "" {
		carrier.Set("tracestate", ts)
	}
	if len(carrier) == 0 {
		return ctx
	}
	prop := propagation.TraceContext{}
	return prop.Extract(ctx, propagation.HeaderCarrier(carrier))
}

// marshalInputSchema reflects the handler's parameter struct into a JSON
// schema. RawInputSchema is used instead of the typed schema field so that
// empty properties objects survive marshalling.
func marshalInputSchema(handler any) ([]byte, error) {
	jsonSchema := createJSONSchemaFromHandler(handler)
	properties := make(map[string]any, jsonSchema.Properties.Len())
	for pair := jsonSchema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		properties[pair.Key] = pair.Value
	}
	argumentsSchema := mcp.ToolArgumentsSchema{
		Type:       jsonSchema.Type,
		Properties: properties,
		Required:   jsonSchema.Required,
	}
	schemaBytes, err := json.Marshal(argumentsSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}
	return schemaBytes, nil
}

func createJSONSchemaFromHandler(handler any) *jsonschema.Schema {
	handlerType := reflect.TypeOf(handler)
	return jsonSchemaReflector.ReflectFromType(handlerType.In(1))
}

var jsonSchemaReflector = jsonschema.Reflector{
	Anonymous:                  true,
	AllowAdditionalProperties:  true,
	RequiredFromJSONSchemaTags: true,
	DoNotReference:             true,
	ExpandedStruct:             true,
}
