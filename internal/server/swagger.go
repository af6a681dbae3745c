package server

import "github.com/swaggo/swag"

// @title Reconcile API
// @version 0.1
// @description Diffs, three-way merges and conflict tracking for collaboratively edited documents.
// @contact.name Reconcile Maintainers
// @contact.url https://github.com/raysh454/reconcile
// @BasePath /

// SwaggerInfo is served at /swagger/doc.json.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	BasePath:         "/",
	Title:            "Reconcile API",
	Description:      "Diffs, three-way merges and conflict tracking for collaboratively edited documents.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

const docTemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{.Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "consumes": ["application/json"],
  "produces": ["application/json"],
  "paths": {
    "/diff": {"post": {"summary": "Diff two texts", "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/DiffRequest"}}], "responses": {"200": {"description": "segments, stats and optional rendering"}, "400": {"$ref": "#/responses/Error"}}}},
    "/merge": {"post": {"summary": "Three-way merge of two edits", "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/MergeRequest"}}], "responses": {"200": {"description": "merged content and conflict, if any"}}}},
    "/documents": {
      "get": {"summary": "List documents", "responses": {"200": {"description": "documents"}}},
      "post": {"summary": "Create a document", "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDocumentRequest"}}], "responses": {"201": {"description": "document with its first version"}, "400": {"$ref": "#/responses/Error"}}}
    },
    "/documents/{doc}": {"get": {"summary": "Get a document with its head content", "parameters": [{"$ref": "#/parameters/doc"}], "responses": {"200": {"description": "document"}, "404": {"$ref": "#/responses/Error"}}}},
    "/documents/{doc}/versions": {"get": {"summary": "List versions, newest first", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "query", "name": "limit", "type": "integer"}], "responses": {"200": {"description": "versions"}}}},
    "/documents/{doc}/versions/{version}": {"get": {"summary": "Get a version with content", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "path", "name": "version", "required": true, "type": "string"}], "responses": {"200": {"description": "version"}, "404": {"$ref": "#/responses/Error"}}}},
    "/documents/{doc}/diff": {"get": {"summary": "Diff two versions", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "query", "name": "base", "type": "string"}, {"in": "query", "name": "head", "type": "string"}, {"in": "query", "name": "granularity", "type": "string", "enum": ["word", "line", "char"]}, {"in": "query", "name": "format", "type": "string", "enum": ["segments", "unified", "html"]}], "responses": {"200": {"description": "diff"}}}},
    "/documents/{doc}/edits": {"post": {"summary": "Submit an edit", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/EditRequest"}}], "responses": {"200": {"description": "merged or noop"}, "201": {"description": "committed"}, "409": {"description": "conflict recorded"}}}},
    "/documents/{doc}/edits/preview": {"post": {"summary": "Predict the outcome of an edit", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/EditRequest"}}], "responses": {"200": {"description": "preview"}}}},
    "/documents/{doc}/conflicts": {"get": {"summary": "List conflicts", "parameters": [{"$ref": "#/parameters/doc"}, {"in": "query", "name": "status", "type": "string", "enum": ["open", "all"]}], "responses": {"200": {"description": "conflicts"}}}},
    "/conflicts/{id}": {"get": {"summary": "Get a conflict", "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "conflict"}, "404": {"$ref": "#/responses/Error"}}}},
    "/conflicts/{id}/resolve": {"post": {"summary": "Resolve a conflict", "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ResolveRequest"}}], "responses": {"200": {"description": "resolved conflict and the applied edit"}, "400": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}}},
    "/ws/documents/{doc}": {"get": {"summary": "Websocket stream of document events", "parameters": [{"$ref": "#/parameters/doc"}], "responses": {"101": {"description": "switching protocols"}}}}
  },
  "parameters": {"doc": {"in": "path", "name": "doc", "required": true, "type": "string"}},
  "responses": {"Error": {"description": "error", "schema": {"$ref": "#/definitions/ErrorResponse"}}},
  "definitions": {
    "DiffRequest": {"type": "object", "properties": {"old": {"type": "string"}, "new": {"type": "string"}, "granularity": {"type": "string"}, "strip_html": {"type": "boolean"}, "format": {"type": "string"}, "context": {"type": "integer"}}},
    "EditSnapshot": {"type": "object", "properties": {"user_id": {"type": "string"}, "user_name": {"type": "string"}, "content": {"type": "string"}, "timestamp": {"type": "string", "format": "date-time"}}},
    "MergeRequest": {"type": "object", "properties": {"base": {"type": "string"}, "a": {"$ref": "#/definitions/EditSnapshot"}, "b": {"$ref": "#/definitions/EditSnapshot"}}},
    "CreateDocumentRequest": {"type": "object", "required": ["title", "user_id"], "properties": {"title": {"type": "string"}, "content": {"type": "string"}, "user_id": {"type": "string"}, "user_name": {"type": "string"}}},
    "EditRequest": {"type": "object", "required": ["user_id"], "properties": {"base_version_id": {"type": "string"}, "user_id": {"type": "string"}, "user_name": {"type": "string"}, "content": {"type": "string"}, "message": {"type": "string"}}},
    "ResolveRequest": {"type": "object", "required": ["strategy"], "properties": {"strategy": {"type": "string", "enum": ["user-a", "user-b", "merge", "custom"]}, "custom_content": {"type": "string"}, "resolved_by": {"type": "string"}, "reasoning": {"type": "string"}}},
    "ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}}}
  }
}`
