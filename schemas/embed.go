// Package schemas embeds the JSON Schema documents shipped with the service.
package schemas

import "embed"

// FS holds every *.schema.json file in this directory.
//
//go:embed *.schema.json
var FS embed.FS

// Schema file names.
const (
	GenerateContentResponse = "generate_content_response.schema.json"
	ChartResult             = "chart_result.schema.json"
	ChartStatus             = "chart_status.schema.json"
)
