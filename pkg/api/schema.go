package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBody = 1 << 20

const (
	timePattern = `^([01][0-9]|2[0-4]):[0-5][0-9]$`
	datePattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`
)

// bodySchemas are the JSON schemas request bodies are checked against
// before decoding.
var bodySchemas = map[string]string{
	"post_task": `{
		"type": "object",
		"required": ["title", "category_id", "location"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"description": {"type": "string", "maxLength": 5000},
			"category_id": {"type": "string", "minLength": 1},
			"location": {"type": "string", "minLength": 1},
			"budget_min": {"type": "integer", "minimum": 0},
			"budget_max": {"type": "integer", "minimum": 0},
			"pricing_type": {"enum": ["fixed", "hourly"]},
			"urgent": {"type": "boolean"},
			"scheduled_for": {"type": "string", "pattern": "` + datePattern + `"}
		}
	}`,
	"apply": `{
		"type": "object",
		"properties": {"message": {"type": "string", "maxLength": 2000}}
	}`,
	"assign": `{
		"type": "object",
		"required": ["application_id"],
		"properties": {"application_id": {"type": "string", "minLength": 1}}
	}`,
	"create_booking": `{
		"type": "object",
		"required": ["offering_id", "booking_date", "start_time", "end_time"],
		"properties": {
			"offering_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string"},
			"booking_date": {"type": "string", "pattern": "` + datePattern + `"},
			"start_time": {"type": "string", "pattern": "` + timePattern + `"},
			"end_time": {"type": "string", "pattern": "` + timePattern + `"},
			"location": {"type": "string"},
			"description": {"type": "string", "maxLength": 2000},
			"pricing_type": {"enum": ["fixed", "hourly"]},
			"agreed_price": {"type": "integer", "minimum": 0}
		}
	}`,
	"cancel": `{
		"type": "object",
		"properties": {"reason": {"type": "string", "maxLength": 500}}
	}`,
	"add_slot": `{
		"type": "object",
		"required": ["day_of_week", "start_time", "end_time"],
		"properties": {
			"day_of_week": {"type": "integer", "minimum": 0, "maximum": 6},
			"start_time": {"type": "string", "pattern": "` + timePattern + `"},
			"end_time": {"type": "string", "pattern": "` + timePattern + `"}
		}
	}`,
	"set_available": `{
		"type": "object",
		"required": ["available"],
		"properties": {"available": {"type": "boolean"}}
	}`,
	"set_active": `{
		"type": "object",
		"required": ["active"],
		"properties": {"active": {"type": "boolean"}}
	}`,
	"upsert_offering": `{
		"type": "object",
		"required": ["service_id", "hourly_rate"],
		"properties": {
			"service_id": {"type": "string", "minLength": 1},
			"hourly_rate": {"type": "integer"},
			"description": {"type": "string", "maxLength": 2000}
		}
	}`,
	"profile": `{
		"type": "object",
		"required": ["display_name"],
		"properties": {
			"display_name": {"type": "string", "minLength": 1, "maxLength": 100},
			"email": {"type": "string"},
			"phone": {"type": "string"},
			"location": {"type": "string"},
			"bio": {"type": "string", "maxLength": 2000}
		}
	}`,
	"provider_onboarding": `{
		"type": "object",
		"required": ["profile", "offerings", "slots"],
		"properties": {
			"profile": {"type": "object"},
			"offerings": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["service_id", "hourly_rate"],
					"properties": {
						"service_id": {"type": "string"},
						"hourly_rate": {"type": "integer"},
						"description": {"type": "string"}
					}
				}
			},
			"slots": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["day_of_week", "start_time", "end_time"],
					"properties": {
						"day_of_week": {"type": "integer", "minimum": 0, "maximum": 6},
						"start_time": {"type": "string", "pattern": "` + timePattern + `"},
						"end_time": {"type": "string", "pattern": "` + timePattern + `"}
					}
				}
			}
		}
	}`,
}

// Validator holds the compiled body schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(bodySchemas))}
	for name, src := range bodySchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://marketplace.local/schemas/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Decode reads the request body, validates it against the named schema and
// unmarshals it into out. On failure it writes the 400 response and
// returns false.
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body too large or unreadable")
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body is not valid JSON")
		return false
	}
	if s, ok := v.schemas[schema]; ok {
		if err := s.Validate(doc); err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "schema validation failed: "+err.Error())
			return false
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
		return false
	}
	return true
}
