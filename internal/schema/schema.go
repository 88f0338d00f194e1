// Package schema validates inbound JSON payloads against embedded JSON
// Schemas before they are decoded into request structs.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ent0n29/taskhub/internal/apperr"
)

//go:embed schemas/*.json
var files embed.FS

type Name string

const (
	TaskCreate   Name = "task-create"
	TaskUpdate   Name = "task-update"
	TaskShare    Name = "task-share"
	TaskUnshare  Name = "task-unshare"
	TaskComment  Name = "task-comment"
	TaskRef      Name = "task-ref"
	UserStatus   Name = "user-status"
	AuthRegister Name = "auth-register"
	AuthLogin    Name = "auth-login"
	UserProfile  Name = "user-profile"
)

var allNames = []Name{
	TaskCreate, TaskUpdate, TaskShare, TaskUnshare, TaskComment, TaskRef,
	UserStatus, AuthRegister, AuthLogin, UserProfile,
}

const baseURL = "https://taskhub.local/schemas/"

type Validator struct {
	schemas map[Name]*jsonschema.Schema
}

func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	for _, name := range allNames {
		data, err := files.ReadFile("schemas/" + string(name) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(baseURL+string(name)+".json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[Name]*jsonschema.Schema, len(allNames))}
	for _, name := range allNames {
		s, err := compiler.Compile(baseURL + string(name) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// MustNew panics if the embedded schemas fail to compile.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw against the named schema and returns a validation
// error naming the first offending field.
func (v *Validator) Validate(name Name, raw []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return apperr.Validation("payload is required")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperr.Validation("payload is not valid JSON")
	}
	if _, isObject := doc.(map[string]any); !isObject {
		return apperr.Validation("payload must be a JSON object")
	}

	err := s.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return apperr.Wrap(apperr.KindValidation, err, "payload validation failed")
	}
	leaf := firstLeaf(ve)
	return apperr.Validation("%s: %s", fieldName(leaf.InstanceLocation), leaf.Message)
}

func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

func fieldName(pointer string) string {
	field := strings.Trim(pointer, "/")
	if field == "" {
		return "payload"
	}
	return strings.ReplaceAll(field, "/", ".")
}
