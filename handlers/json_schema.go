package handlers

import "github.com/xeipuuv/gojsonschema"

var CreateJobRequestSchemaDefinition = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"video_id": {
			"type": "string",
			"minLength": 1
		},
		"filename": {
			"type": "string",
			"minLength": 1
		},
		"target_duration_minutes": {
			"type": "number",
			"minimum": 0,
			"maximum": 120
		},
		"character_guide": {
			"type": "string",
			"maxLength": 4000
		},
		"enable_scene_matcher": {
			"type": "boolean"
		},
		"enable_copyright_protection": {
			"type": "boolean"
		},
		"series_id": {
			"type": "string",
			"maxLength": 200
		},
		"user_id": {
			"type": "string",
			"maxLength": 200
		},
		"plan_tier": {
			"type": "string",
			"enum": ["none", "creator", "studio"]
		},
		"script": {
			"type": "string",
			"maxLength": 200000
		}
	},
	"required": ["video_id", "filename"]
}`

var inputSchemas map[string]string = map[string]string{
	"CreateJob": CreateJobRequestSchemaDefinition,
}

func compileJsonSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, 0)
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var inputSchemasCompiled map[string]*gojsonschema.Schema = compileJsonSchemas()
