package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema is the structural contract for declarative workflow files.
// Eval and dynamic nodes carry Go functions and cannot be declared in data;
// they are only available through the in-process API.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "schema", "nodes"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "schema": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
    "initialContext": {"type": "object"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["agent", "command", "slash_command", "llm", "http", "git_checkout"]},
          "then": {"type": "string", "minLength": 1},
          "when": {"type": "string", "minLength": 1},
          "agent": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "role": {"type": "string"},
              "systemPrompt": {"type": "string"},
              "prompt": {"type": "string"},
              "capabilities": {"type": "array", "items": {"type": "string"}},
              "model": {"type": "string"},
              "maxTurns": {"type": "integer", "minimum": 1},
              "temperature": {"type": "number", "minimum": 0, "maximum": 1},
              "resultKey": {"type": "string"},
              "throwOnError": {"type": "boolean"}
            }
          },
          "command": {
            "type": "object",
            "required": ["command"],
            "additionalProperties": false,
            "properties": {
              "command": {"type": "string", "minLength": 1},
              "cwd": {"type": "string"},
              "env": {"type": "object", "additionalProperties": {"type": "string"}},
              "timeoutSeconds": {"type": "integer", "minimum": 1},
              "throwOnError": {"type": "boolean"},
              "resultKey": {"type": "string"}
            }
          },
          "slashCommand": {
            "type": "object",
            "required": ["commandName"],
            "additionalProperties": false,
            "properties": {
              "commandName": {"type": "string", "minLength": 1},
              "args": {"type": "string"},
              "timeoutSeconds": {"type": "integer", "minimum": 1},
              "resultKey": {"type": "string"}
            }
          },
          "llm": {
            "type": "object",
            "required": ["model", "prompt"],
            "additionalProperties": false,
            "properties": {
              "model": {"type": "string", "minLength": 1},
              "systemPrompt": {"type": "string"},
              "prompt": {"type": "string", "minLength": 1},
              "temperature": {"type": "number", "minimum": 0, "maximum": 1},
              "maxTokens": {"type": "integer", "minimum": 1},
              "outputMode": {"enum": ["text", "json"]},
              "resultKey": {"type": "string"},
              "throwOnError": {"type": "boolean"}
            }
          },
          "http": {
            "type": "object",
            "required": ["url"],
            "additionalProperties": false,
            "properties": {
              "method": {"type": "string"},
              "url": {"type": "string", "minLength": 1},
              "body": {},
              "query": {"type": "object", "additionalProperties": {"type": "string"}},
              "headers": {"type": "object", "additionalProperties": {"type": "string"}},
              "timeoutSeconds": {"type": "integer", "minimum": 1},
              "resultKey": {"type": "string"}
            }
          },
          "gitCheckout": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "useIssueContext": {"type": "boolean"},
              "owner": {"type": "string"},
              "repo": {"type": "string"},
              "ref": {"type": "string"},
              "depth": {"type": "integer", "minimum": 1},
              "skipIfExists": {"type": "boolean"},
              "workDir": {"type": "string"},
              "tokenEnv": {"type": "string"},
              "timeoutSeconds": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    }
  }
}`

var (
	docSchemaOnce sync.Once
	docSchema     *jsonschema.Schema
	docSchemaErr  error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	docSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("workflow.schema.json", strings.NewReader(documentSchema)); err != nil {
			docSchemaErr = err
			return
		}
		docSchema, docSchemaErr = c.Compile("workflow.schema.json")
	})
	return docSchema, docSchemaErr
}

type workflowDoc struct {
	ID             string         `yaml:"id" json:"id"`
	Schema         []string       `yaml:"schema" json:"schema"`
	InitialContext map[string]any `yaml:"initialContext" json:"initialContext"`
	Nodes          []nodeDoc      `yaml:"nodes" json:"nodes"`
}

type nodeDoc struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`
	Then string `yaml:"then" json:"then"`
	When string `yaml:"when" json:"when"`

	Agent    *agentDoc    `yaml:"agent" json:"agent"`
	Command  *commandDoc  `yaml:"command" json:"command"`
	Slash    *slashDoc    `yaml:"slashCommand" json:"slashCommand"`
	LLM      *llmDoc      `yaml:"llm" json:"llm"`
	HTTP     *httpDoc     `yaml:"http" json:"http"`
	Checkout *checkoutDoc `yaml:"gitCheckout" json:"gitCheckout"`
}

type agentDoc struct {
	Role         string   `yaml:"role" json:"role"`
	SystemPrompt string   `yaml:"systemPrompt" json:"systemPrompt"`
	Prompt       string   `yaml:"prompt" json:"prompt"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	Model        string   `yaml:"model" json:"model"`
	MaxTurns     int      `yaml:"maxTurns" json:"maxTurns"`
	Temperature  *float64 `yaml:"temperature" json:"temperature"`
	ResultKey    string   `yaml:"resultKey" json:"resultKey"`
	ThrowOnError *bool    `yaml:"throwOnError" json:"throwOnError"`
}

type commandDoc struct {
	Command        string            `yaml:"command" json:"command"`
	Cwd            string            `yaml:"cwd" json:"cwd"`
	Env            map[string]string `yaml:"env" json:"env"`
	TimeoutSeconds int               `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	ThrowOnError   *bool             `yaml:"throwOnError" json:"throwOnError"`
	ResultKey      string            `yaml:"resultKey" json:"resultKey"`
}

type slashDoc struct {
	CommandName    string `yaml:"commandName" json:"commandName"`
	Args           string `yaml:"args" json:"args"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	ResultKey      string `yaml:"resultKey" json:"resultKey"`
}

type llmDoc struct {
	Model        string   `yaml:"model" json:"model"`
	SystemPrompt string   `yaml:"systemPrompt" json:"systemPrompt"`
	Prompt       string   `yaml:"prompt" json:"prompt"`
	Temperature  *float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int      `yaml:"maxTokens" json:"maxTokens"`
	OutputMode   string   `yaml:"outputMode" json:"outputMode"`
	ResultKey    string   `yaml:"resultKey" json:"resultKey"`
	ThrowOnError *bool    `yaml:"throwOnError" json:"throwOnError"`
}

type httpDoc struct {
	Method         string            `yaml:"method" json:"method"`
	URL            string            `yaml:"url" json:"url"`
	Body           any               `yaml:"body" json:"body"`
	Query          map[string]string `yaml:"query" json:"query"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	TimeoutSeconds int               `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	ResultKey      string            `yaml:"resultKey" json:"resultKey"`
}

type checkoutDoc struct {
	UseIssueContext bool   `yaml:"useIssueContext" json:"useIssueContext"`
	Owner           string `yaml:"owner" json:"owner"`
	Repo            string `yaml:"repo" json:"repo"`
	Ref             string `yaml:"ref" json:"ref"`
	Depth           int    `yaml:"depth" json:"depth"`
	SkipIfExists    *bool  `yaml:"skipIfExists" json:"skipIfExists"`
	WorkDir         string `yaml:"workDir" json:"workDir"`
	TokenEnv        string `yaml:"tokenEnv" json:"tokenEnv"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

// LoadFile reads a declarative workflow from a .yaml/.yml/.json file,
// validates it, and returns a runnable config.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Load(f, "json")
	default:
		return Load(f, "yaml")
	}
}

// Load decodes a declarative workflow document. Unknown fields are rejected,
// the document is checked against the structural schema, transitions are
// compiled, and the result passes full Validate before returning.
func Load(r io.Reader, format string) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// Schema validation runs on the generic decode so position-free errors
	// still name the offending property.
	var generic any
	switch format {
	case "json":
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("parse workflow document: %w", err)
		}
	default:
		var node any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("parse workflow document: %w", err)
		}
		generic = normalizeYAML(node)
	}
	schema, err := compiledDocumentSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("document schema: %v", err)}
	}

	var doc workflowDoc
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode workflow document: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode workflow document: %w", err)
		}
	}

	cfg, err := buildConfig(&doc)
	if err != nil {
		return nil, err
	}
	if _, err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildConfig(doc *workflowDoc) (*Config, error) {
	cfg := &Config{
		ID:             doc.ID,
		SchemaNames:    doc.Schema,
		InitialContext: doc.InitialContext,
	}
	for _, nd := range doc.Nodes {
		def := Definition{Name: nd.Name, Kind: Kind(nd.Kind)}

		switch {
		case nd.When != "" && nd.Then != "":
			return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "then and when are mutually exclusive"}
		case nd.When != "":
			t, err := CondExpr(nd.When)
			if err != nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: err.Error()}
			}
			def.Then = t
		case nd.Then != "":
			def.ThenLiteral = nd.Then
		default:
			return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "a then or when transition is required"}
		}

		switch def.Kind {
		case KindAgent:
			a := nd.Agent
			if a == nil {
				a = &agentDoc{}
			}
			def.Agent = &AgentConfig{
				Role:         a.Role,
				SystemPrompt: a.SystemPrompt,
				Prompt:       a.Prompt,
				Capabilities: a.Capabilities,
				Model:        a.Model,
				MaxTurns:     a.MaxTurns,
				Temperature:  a.Temperature,
				ResultKey:    a.ResultKey,
				ThrowOnError: a.ThrowOnError,
			}
		case KindCommand:
			c := nd.Command
			if c == nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "command config is required"}
			}
			def.Command = &CommandConfig{
				Command:      c.Command,
				Cwd:          c.Cwd,
				Env:          c.Env,
				Timeout:      time.Duration(c.TimeoutSeconds) * time.Second,
				ThrowOnError: c.ThrowOnError,
				ResultKey:    c.ResultKey,
			}
		case KindSlashCommand:
			s := nd.Slash
			if s == nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "slashCommand config is required"}
			}
			def.Slash = &SlashConfig{
				CommandName: s.CommandName,
				Args:        s.Args,
				Timeout:     time.Duration(s.TimeoutSeconds) * time.Second,
				ResultKey:   s.ResultKey,
			}
		case KindLLM:
			l := nd.LLM
			if l == nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "llm config is required"}
			}
			def.LLM = &LLMConfig{
				Model:        l.Model,
				SystemPrompt: l.SystemPrompt,
				Prompt:       l.Prompt,
				Temperature:  l.Temperature,
				MaxTokens:    l.MaxTokens,
				OutputMode:   l.OutputMode,
				ResultKey:    l.ResultKey,
				ThrowOnError: l.ThrowOnError,
			}
		case KindHTTP:
			h := nd.HTTP
			if h == nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "http config is required"}
			}
			def.HTTP = &HTTPConfig{
				Method:    h.Method,
				URL:       h.URL,
				Body:      h.Body,
				Query:     h.Query,
				Headers:   h.Headers,
				Timeout:   time.Duration(h.TimeoutSeconds) * time.Second,
				ResultKey: h.ResultKey,
			}
		case KindGitCheckout:
			g := nd.Checkout
			if g == nil {
				return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: "gitCheckout config is required"}
			}
			def.Checkout = &CheckoutConfig{
				UseIssueContext: g.UseIssueContext,
				Owner:           g.Owner,
				Repo:            g.Repo,
				Ref:             g.Ref,
				Depth:           g.Depth,
				SkipIfExists:    g.SkipIfExists,
				WorkDir:         g.WorkDir,
				TokenEnv:        g.TokenEnv,
				Timeout:         time.Duration(g.TimeoutSeconds) * time.Second,
			}
		default:
			return nil, &ConfigError{Workflow: doc.ID, Node: nd.Name, Message: fmt.Sprintf("kind %q cannot be declared in a document", nd.Kind)}
		}
		cfg.Nodes = append(cfg.Nodes, def)
	}
	return cfg, nil
}

// normalizeYAML rewrites map[any]any trees into map[string]any so the JSON
// schema validator can walk them.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
