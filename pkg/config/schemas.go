package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// Schema names for the generated documents.
const (
	SchemaNoxSuite = "noxsuite"
	SchemaEnv      = "env"
	SchemaDatabase = "database"
	SchemaNetwork  = "network"
	SchemaLogging  = "logging"
	SchemaModels   = "models"
	SchemaModule   = "module"
	SchemaCompose  = "compose"
)

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// SchemaRegistry holds CUE definitions for the generated documents.
// A single cue.Context is not safe for concurrent use, so all access is
// serialized.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a registry with the built-in document schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	for _, b := range builtinSchemas {
		if err := sr.RegisterSchema(b.name, b.definition, builtinSchemaSource); err != nil {
			// Built-in schemas are compiled in; a failure is a programming error.
			panic(err)
		}
	}
	return sr
}

// RegisterSchema compiles source and registers the named definition from it
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, definition)
	}
	sr.schemas[name] = def
	return nil
}

// ListSchemas returns the registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateJSON checks a JSON document against the named schema. It returns
// a configuration error for malformed input and a validation error listing
// every field violation otherwise.
func (sr *SchemaRegistry) ValidateJSON(name string, data []byte) error {
	if !json.Valid(data) {
		return engine.NewConfigurationError(fmt.Sprintf("%s document is not valid JSON", name), nil)
	}
	fieldErrs, err := sr.validate(name, data)
	if err != nil {
		return err
	}
	return toError(name, fieldErrs)
}

// ValidateYAML checks a YAML document against the named schema.
func (sr *SchemaRegistry) ValidateYAML(name string, data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("%s document is not valid YAML", name), err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("%s document cannot be converted", name), err)
	}
	return sr.ValidateJSON(name, raw)
}

// ValidateValue encodes v as JSON and validates it.
func (sr *SchemaRegistry) ValidateValue(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return engine.NewConfigurationError("failed to encode "+name+" document", err)
	}
	return sr.ValidateJSON(name, raw)
}

// Violations returns the field errors for data without wrapping them.
func (sr *SchemaRegistry) Violations(name string, data []byte) ([]FieldError, error) {
	return sr.validate(name, data)
}

func (sr *SchemaRegistry) validate(name string, data []byte) ([]FieldError, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return nil, engine.NewConfigurationError("schema not found: "+name, nil)
	}

	doc := sr.ctx.CompileBytes(data, cue.Filename(name+".json"))
	if err := doc.Err(); err != nil {
		return convertCUEErrors(err), nil
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}
	return nil, nil
}

func toError(name string, fieldErrs []FieldError) error {
	if len(fieldErrs) == 0 {
		return nil
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fe.String()
	}
	return engine.NewValidationError(fmt.Sprintf("%s document failed schema validation: %s", name, strings.Join(msgs, "; ")), nil).
		WithCode(engine.ErrCodeInvalidConfig).
		WithDetail("schema", name).
		WithDetail("violations", fieldErrs)
}

// convertCUEErrors flattens a CUE error list into field errors.
func convertCUEErrors(err error) []FieldError {
	var out []FieldError
	for _, e := range errors.Errors(err) {
		fe := FieldError{
			Path:    strings.Join(errors.Path(e), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			fe.File = pos[0].Filename()
			fe.Line = pos[0].Line()
			fe.Column = pos[0].Column()
		}
		out = append(out, fe)
	}
	return out
}

var builtinSchemas = []struct {
	name       string
	definition string
}{
	{SchemaNoxSuite, "#NoxSuite"},
	{SchemaEnv, "#Env"},
	{SchemaDatabase, "#Database"},
	{SchemaNetwork, "#Network"},
	{SchemaLogging, "#Logging"},
	{SchemaModels, "#Models"},
	{SchemaModule, "#Module"},
	{SchemaCompose, "#Compose"},
}

const builtinSchemaSource = `
#Name: string & =~"^[a-z][a-z0-9_-]*$"
#Port: int & >0 & <65536
#OS:   "windows" | "linux" | "macos" | "unknown"

#NoxSuite: {
	version: string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
	installation: {
		directory: string & !=""
		platform:  #OS
		mode:      "guided" | "fast" | "dry_run" | "safe" | "recovery"
		installed_modules: [#Name, ...#Name]
		features: {
			ai_enabled:     bool
			voice_enabled:  bool
			mobile_enabled: bool
			dev_mode:       bool
			auto_start:     bool
		}
		ai_models: [...string]
	}
	system: {
		os_type:         #OS
		architecture:    string
		runtime_version: string
		memory_gb:       number & >0
		cpu_cores:       int & >0
	}
}

#Env: {
	NOXSUITE_VERSION:      string & !=""
	NOXSUITE_PLATFORM:     #OS
	NOXSUITE_INSTALL_PATH: string & !=""
	[=~"^[A-Z][A-Z0-9_]*$"]: string
}

#Database: {
	default: "postgres"
	postgres: {
		host:     string & !=""
		port:     #Port
		database: #Name
		user:     string & !=""
		data_dir: string & !=""
	}
	redis: {
		host:     string & !=""
		port:     #Port
		data_dir: string & !=""
	}
}

#Network: {
	host: string & !=""
	ports: {
		web: #Port
		api: #Port
		[#Name]: #Port
	}
	docker: network: #Name
}

#Logging: {
	version:   1
	level:     "DEBUG" | "INFO" | "WARNING" | "ERROR"
	file:      string & !=""
	format:    string
	max_bytes: int & >0
	backups:   int & >=0
}

#Models: {
	enabled:  bool
	runtime:  "ollama"
	endpoint: string & =~"^https?://"
	models: [...{
		name:    string & !=""
		enabled: bool
	}]
}

#Module: {
	name:     #Name
	enabled:  bool
	version:  string
	settings: {...}
}

#Compose: {
	name: #Name
	services: [#Name]: {
		image: string & !=""
		restart?: "no" | "always" | "unless-stopped" | "on-failure"
		ports?: [...string]
		volumes?: [...string]
		environment?: [string]: string
		env_file?: [...string]
		depends_on?: [...#Name]
		networks?: [...#Name]
	}
	networks?: [#Name]: {
		driver?: string
	}
}
`
