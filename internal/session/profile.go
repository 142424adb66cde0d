package session

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidProfile is returned when sign-up profile fields fail schema validation.
var ErrInvalidProfile = errors.New("invalid profile")

//go:embed profile.schema.json
var profileSchemaJSON []byte

const profileSchemaURL = "profile.schema.json"

// ProfileValidator checks sign-up profile fields against the embedded customer profile schema.
type ProfileValidator struct {
	schema *jsonschema.Schema
}

// NewProfileValidator compiles the embedded schema.
func NewProfileValidator() (*ProfileValidator, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(profileSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse profile schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	if err := compiler.AddResource(profileSchemaURL, parsed); err != nil {
		return nil, fmt.Errorf("add profile schema resource: %w", err)
	}

	schema, err := compiler.Compile(profileSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	return &ProfileValidator{schema: schema}, nil
}

// Validate returns an error wrapping ErrInvalidProfile when profile violates the schema.
// A nil profile is validated as an empty object.
func (v *ProfileValidator) Validate(profile map[string]any) error {
	if profile == nil {
		profile = map[string]any{}
	}
	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, formatValidationError(err))
	}
	return nil
}

// formatValidationError renders the first leaf failure, e.g. "at '/phone': does not match pattern ...".
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	msg := leaf.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return msg
}
