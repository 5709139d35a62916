package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/harunnryd/parley/pkg/llm"
)

// Definition is what the model sees of a tool.
type Definition struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

func (d Definition) LLMTool() llm.Tool {
	return llm.Tool{Name: d.Name, Description: d.Description, Schema: d.Schema}
}

// Tool is an external action the model may request mid-generation.
// Execute must honor ctx and be safe for concurrent use.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

var reflector = jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}

// SchemaFor reflects the JSON schema of In. Fields without omitempty are
// required and unknown properties are rejected.
func SchemaFor[In any]() *jsonschema.Schema {
	var in In
	return reflector.Reflect(&in)
}

// Func adapts a typed function into a Tool.
type Func[In, Out any] struct {
	def Definition
	fn  func(ctx context.Context, in In) (Out, error)
}

func NewFunc[In, Out any](name, description string, fn func(ctx context.Context, in In) (Out, error)) *Func[In, Out] {
	schema := SchemaFor[In]()
	schema.Description = description
	return &Func[In, Out]{
		def: Definition{Name: name, Description: description, Schema: schema},
		fn:  fn,
	}
}

func (f *Func[In, Out]) Definition() Definition { return f.def }

func (f *Func[In, Out]) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in In
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}
	out, err := f.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
