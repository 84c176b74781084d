package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var jobSpecSchemaJSON = fmt.Sprintf(`{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["source_file", "frame_count", "output_name"],
	"properties": {
		"source_file": {"type": "string", "minLength": 1, "pattern": "\\S"},
		"frame_count": {"type": "integer", "minimum": 1, "maximum": %d},
		"output_name": {"type": "string", "minLength": 1, "pattern": "\\S"}
	}
}`, domain.MaxFrameCount)

var jobSpecSchema = jsonschema.MustCompileString("job_spec.json", jobSpecSchemaJSON)

// ParseJobSpec validates a raw job spec document and decodes it.
// Errors are ValidationErrors wrapping domain.ErrInvalidJobSpec.
func ParseJobSpec(data []byte) (domain.JobSpec, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return domain.JobSpec{}, domain.NewValidationError(domain.ErrInvalidJobSpec, "body", fmt.Sprintf("malformed JSON: %v", err))
	}

	if err := jobSpecSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			return domain.JobSpec{}, domain.NewValidationError(domain.ErrInvalidJobSpec, fieldName(leaf), leaf.Message)
		}
		return domain.JobSpec{}, domain.NewValidationError(domain.ErrInvalidJobSpec, "body", err.Error())
	}

	var spec domain.JobSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return domain.JobSpec{}, domain.NewValidationError(domain.ErrInvalidJobSpec, "body", err.Error())
	}
	return spec, nil
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func fieldName(ve *jsonschema.ValidationError) string {
	if field := strings.TrimPrefix(ve.InstanceLocation, "/"); field != "" {
		return field
	}
	return "body"
}
