package registry

import (
	"fmt"
	"strings"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/tasks"
	"github.com/xeipuuv/gojsonschema"
)

// Output schemas for the task types whose payloads cross the seam to
// external collaborators. Types without an entry are not validated.
var outputSchemas = map[models.TaskType]string{
	models.TaskTypeFetchRecording: `{
        "type": "object",
        "required": ["recording_key"],
        "properties": {
            "recording_key": {"type": "string", "minLength": 1},
            "duration_ms": {"type": "integer", "minimum": 0}
        }
    }`,
	models.TaskTypeFetchParticipants: `{
        "type": "object",
        "required": ["participants", "track_count"],
        "properties": {
            "track_count": {"type": "integer", "minimum": 0},
            "participants": {
                "type": "array",
                "items": {
                    "type": "object",
                    "required": ["track_id", "track_reference"],
                    "properties": {
                        "track_id": {"type": "string", "minLength": 1},
                        "track_reference": {"type": "string", "minLength": 1},
                        "language": {"type": "string"}
                    }
                }
            }
        }
    }`,
	models.TaskTypeTranscribeTrack: `{
        "type": "object",
        "required": ["segments"],
        "properties": {
            "track_id": {"type": "string"},
            "segments": {
                "type": "array",
                "items": {
                    "type": "object",
                    "required": ["start_ms", "end_ms", "text"],
                    "properties": {
                        "speaker": {"type": "string"},
                        "start_ms": {"type": "integer", "minimum": 0},
                        "end_ms": {"type": "integer", "minimum": 0},
                        "text": {"type": "string"}
                    }
                }
            }
        }
    }`,
	models.TaskTypeMergeTranscripts: `{
        "type": "object",
        "required": ["segments", "merged_tracks"],
        "properties": {
            "segments": {"type": "array"},
            "merged_tracks": {"type": "integer", "minimum": 0},
            "total_tracks": {"type": "integer", "minimum": 0}
        }
    }`,
	models.TaskTypeFinalize: `{
        "type": "object",
        "required": ["episode_key", "mix_key"],
        "properties": {
            "episode_key": {"type": "string", "minLength": 1},
            "mix_key": {"type": "string", "minLength": 1},
            "title": {"type": "string"},
            "summary": {"type": "string"}
        }
    }`,
}

var compiledSchemas = func() map[models.TaskType]*gojsonschema.Schema {
	compiled := make(map[models.TaskType]*gojsonschema.Schema, len(outputSchemas))

	for taskType, raw := range outputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Errorf("compile schema for %s: %w", taskType, err))
		}

		compiled[taskType] = schema
	}

	return compiled
}()

// ValidateOutput checks a completed task's output against its declared
// schema. A schema violation is fatal: retrying will not change the shape.
func (r *Registry) ValidateOutput(taskType models.TaskType, output map[string]any) error {
	schema, ok := compiledSchemas[taskType]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(output))
	if err != nil {
		return tasks.Fatal(fmt.Errorf("validate %s output: %w", taskType, err))
	}

	if result.Valid() {
		return nil
	}

	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return tasks.Fatalf("%s output schema violation: %s", taskType, strings.Join(details, "; "))
}
