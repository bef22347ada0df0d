package gateway

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const invokeSchema = `{
  "type": "object",
  "required": ["input"],
  "properties": {
    "input": {"type": "string"}
  }
}`

const envelopeSchema = `{
  "type": "object",
  "required": ["jsonrpc"],
  "properties": {
    "jsonrpc": {"const": "2.0"},
    "id": {"type": ["string", "number", "null"]},
    "method": {"type": "string"},
    "params": {}
  }
}`

const sendParamsSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "content": {
      "type": "object",
      "required": ["query"],
      "properties": {
        "query": {"type": "string"}
      }
    }
  }
}`

const getParamsSchema = `{
  "type": "object",
  "required": ["task_id"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1}
  }
}`

// Skill input and output shapes advertised in the agent card.
const skillInputSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "description": "Natural-language question to research"}
  }
}`

const skillOutputSchema = `{
  "type": "object",
  "properties": {
    "answer": {"type": "string"},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "url": {"type": "string"}
        }
      }
    }
  }
}`

type validator struct {
	schema *jsonschema.Schema
}

type schemas struct {
	invoke     *validator
	envelope   *validator
	sendParams *validator
	getParams  *validator
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	compile := func(name, src string) (*validator, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		sch, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return &validator{schema: sch}, nil
	}

	var (
		out schemas
		err error
	)
	if out.invoke, err = compile("invoke", invokeSchema); err != nil {
		return nil, err
	}
	if out.envelope, err = compile("envelope", envelopeSchema); err != nil {
		return nil, err
	}
	if out.sendParams, err = compile("send_params", sendParamsSchema); err != nil {
		return nil, err
	}
	if out.getParams, err = compile("get_params", getParamsSchema); err != nil {
		return nil, err
	}
	return &out, nil
}

// validate parses raw with json.Number handling and checks it against the
// schema. Empty input is treated as JSON null.
func (v *validator) validate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
