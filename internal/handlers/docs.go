package handlers

import (
	"encoding/json"
	"net/http"
)

// derivedRecordSchema describes one row of the derived telemetry table.
// Optional series are nullable per row; the presence object tells the
// caller which of them exist as columns at all.
var derivedRecordSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"timestamp_ms":        map[string]interface{}{"type": "integer", "nullable": true},
		"speed":               map[string]interface{}{"type": "number", "nullable": true},
		"lap_number":          map[string]string{"type": "integer"},
		"latitude":            map[string]interface{}{"type": "number", "nullable": true},
		"longitude":           map[string]interface{}{"type": "number", "nullable": true},
		"distance":            map[string]interface{}{"type": "number", "nullable": true},
		"average_speed":       map[string]interface{}{"type": "number", "nullable": true},
		"total_time_ms":       map[string]interface{}{"type": "number", "nullable": true},
		"lap_time_ms":         map[string]interface{}{"type": "number", "nullable": true},
		"time_local":          map[string]interface{}{"type": "string", "format": "date-time", "nullable": true},
		"speed_smooth":        map[string]interface{}{"type": "number", "nullable": true},
		"distance_normalized": map[string]interface{}{"type": "number", "nullable": true},
	},
}

var uploadParameters = []map[string]interface{}{
	{
		"name":        "timezone",
		"in":          "query",
		"description": "IANA timezone for time_local; unrecognized names fall back to UTC",
		"required":    false,
		"schema":      map[string]string{"type": "string"},
	},
	{
		"name":        "smoothing_window",
		"in":          "query",
		"description": "Odd centered moving-average window for speed, 1-21 (1 disables smoothing)",
		"required":    false,
		"schema":      map[string]interface{}{"type": "integer", "default": 1},
	},
}

var uploadRequestBody = map[string]interface{}{
	"description": "Telemetry CSV export with a header row; column names are matched against known aliases",
	"required":    true,
	"content": map[string]interface{}{
		"text/csv": map[string]interface{}{
			"schema": map[string]string{"type": "string"},
		},
		"multipart/form-data": map[string]interface{}{
			"schema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file": map[string]string{"type": "string", "format": "binary"},
				},
			},
		},
	},
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Telemetry Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Telemetry Platform API",
			"description": "Normalizes vehicle/track telemetry CSV exports into a canonical table with derived time, speed and distance series",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Telemetry Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/telemetry/view": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Normalize and derive a telemetry CSV",
					"description": "Upload a CSV export and receive the derived table ready for charts and maps",
					"parameters": append(uploadParameters, map[string]interface{}{
						"name":        "laps",
						"in":          "query",
						"description": "Comma-separated lap numbers to keep; empty keeps all laps",
						"required":    false,
						"schema":      map[string]string{"type": "string"},
					}),
					"requestBody": uploadRequestBody,
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Derived telemetry table",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data": map[string]interface{}{
												"type":  "array",
												"items": derivedRecordSchema,
											},
											"presence":  map[string]string{"type": "object"},
											"columns":   map[string]string{"type": "object"},
											"laps":      map[string]interface{}{"type": "array", "items": map[string]string{"type": "integer"}},
											"timezone":  map[string]string{"type": "string"},
											"row_count": map[string]string{"type": "integer"},
										},
									},
								},
							},
						},
						"400": map[string]interface{}{
							"description": "Malformed CSV or invalid options",
						},
					},
				},
			},
			"/api/telemetry/laps/{lap}": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Single-lap detail",
					"description": "Upload a CSV export and receive one lap's rows with summary statistics",
					"parameters": append(uploadParameters, map[string]interface{}{
						"name":        "lap",
						"in":          "path",
						"description": "Lap number",
						"required":    true,
						"schema":      map[string]string{"type": "integer"},
					}),
					"requestBody": uploadRequestBody,
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Lap rows and summary",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data": map[string]interface{}{
												"type":  "array",
												"items": derivedRecordSchema,
											},
											"summary":  map[string]string{"type": "object"},
											"presence": map[string]string{"type": "object"},
											"timezone": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
						"404": map[string]interface{}{
							"description": "No rows for the requested lap",
						},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API is running",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "API is healthy",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"status": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
