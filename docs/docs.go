// Package docs holds the OpenAPI document served under /swagger/ when built
// with -tags=swagger. Regenerate with `swag init -g cmd/llmbridge/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "llmbridge maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/models": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a model from a path",
                "parameters": [{"description": "model config", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.CreateModelRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.CreateModelResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models/asset": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a bundled model asset",
                "parameters": [{"description": "asset name and params", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.CreateModelRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.CreateModelResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models/{handle}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Release a model",
                "parameters": [{"type": "integer", "description": "model handle", "name": "handle", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ReleaseModelResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models/{handle}/generate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json", "application/x-ndjson"],
                "tags": ["generate"],
                "summary": "Generate a response",
                "parameters": [
                    {"type": "integer", "description": "model handle", "name": "handle", "in": "path", "required": true},
                    {"description": "prompt and optional image", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/events": {
            "get": {
                "tags": ["events"],
                "summary": "Event stream (websocket)",
                "parameters": [{"type": "integer", "description": "only events for this handle", "name": "handle", "in": "query"}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/v1/memory": {
            "get": {
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Memory diagnostics",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.MemoryStats"}}}
            }
        },
        "/v1/assets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List bundled assets",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AssetsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Registry status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.CreateModelRequest": {
            "type": "object",
            "properties": {
                "path": {"type": "string", "example": "/data/models/gemma-2b-it-cpu-int4.bin"},
                "assetName": {"type": "string", "example": "gemma-2b-it-cpu-int4.bin"},
                "maxTokens": {"type": "integer", "example": 512},
                "topK": {"type": "integer", "example": 40},
                "temperature": {"type": "number", "example": 0.8},
                "randomSeed": {"type": "integer", "example": 0},
                "enableVisionModality": {"type": "boolean", "example": false},
                "preferGpu": {"type": "boolean", "example": true}
            }
        },
        "types.CreateModelResponse": {
            "type": "object",
            "properties": {"handle": {"type": "integer", "example": 1}}
        },
        "types.ReleaseModelResponse": {
            "type": "object",
            "properties": {"released": {"type": "boolean", "example": true}}
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "requestId": {"type": "integer", "example": 0},
                "prompt": {"type": "string", "example": "Describe this picture."},
                "image": {"type": "string"}
            }
        },
        "types.GenerateResponse": {
            "type": "object",
            "properties": {
                "handle": {"type": "integer", "example": 1},
                "requestId": {"type": "integer", "example": 0},
                "response": {"type": "string", "example": "Hi there!"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid handle (handle 7)"},
                "code": {"type": "integer", "example": 404},
                "kind": {"type": "string", "example": "InvalidHandle"}
            }
        },
        "types.Asset": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "gemma-2b-it-cpu-int4.bin"},
                "sizeBytes": {"type": "integer", "example": 1342177280},
                "cached": {"type": "boolean", "example": false}
            }
        },
        "types.AssetsResponse": {
            "type": "object",
            "properties": {"assets": {"type": "array", "items": {"$ref": "#/definitions/types.Asset"}}}
        },
        "types.MemoryStats": {
            "type": "object",
            "properties": {
                "processResidentBytes": {"type": "integer"},
                "processVirtualBytes": {"type": "integer"},
                "heapAllocBytes": {"type": "integer"},
                "runtimeSysBytes": {"type": "integer"},
                "systemTotalBytes": {"type": "integer"},
                "systemAvailableBytes": {"type": "integer"},
                "systemFreeBytes": {"type": "integer"},
                "lowMemory": {"type": "boolean"},
                "loadedModels": {"type": "integer"}
            }
        },
        "types.InstanceStatus": {
            "type": "object",
            "properties": {
                "handle": {"type": "integer", "example": 1},
                "source": {"type": "string", "example": "asset:gemma-2b-it-cpu-int4.bin"},
                "modelPath": {"type": "string"},
                "state": {"type": "string", "example": "ready"},
                "backend": {"type": "string", "example": "gpu"},
                "visionEnabled": {"type": "boolean", "example": false},
                "generations": {"type": "integer", "example": 3},
                "lastUsedUnix": {"type": "integer", "example": 1700000000}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "instances": {"type": "array", "items": {"$ref": "#/definitions/types.InstanceStatus"}},
                "uptimeSeconds": {"type": "integer", "example": 3600},
                "serverTimeUnix": {"type": "integer", "example": 1700000000},
                "createdTotal": {"type": "integer", "example": 4},
                "releasedTotal": {"type": "integer", "example": 1}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "llmbridge API",
	Description:      "HTTP API for on-device LLM model lifecycle, streaming generation and diagnostics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
