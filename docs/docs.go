// Package docs registers the OpenAPI description of the marketplace API
// with swag so the server can serve it at /swagger/doc.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKey": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    },
    "security": [{"ApiKey": []}],
    "paths": {
        "/config": {"get": {"summary": "Deployment addresses, token and oracle settings", "tags": ["meta"], "responses": {"200": {"description": "OK"}}}},
        "/keys": {"post": {"summary": "Issue an API key bound to the caller (owner may name any address)", "tags": ["meta"], "responses": {"201": {"description": "Created"}, "403": {"description": "NotOwner"}}}},
        "/admin/oracle": {"post": {"summary": "Update subscription id, gas limit or secrets (owner)", "tags": ["meta"], "responses": {"200": {"description": "OK"}}}},
        "/register": {"post": {"summary": "Request registration; the oracle completes it", "tags": ["identity"], "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}], "responses": {"202": {"description": "Accepted"}, "409": {"description": "UserAlreadyRegistered"}}}},
        "/oracle/fulfill": {"post": {"summary": "Deliver a score for a pending registration (oracle)", "tags": ["identity"], "responses": {"200": {"description": "OK"}, "403": {"description": "NotOracle"}}}},
        "/registrations/{request_id}": {"get": {"summary": "Pending registration", "tags": ["identity"], "parameters": [{"in": "path", "name": "request_id", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "UnknownRequest"}}}},
        "/customers/{id}": {"get": {"summary": "Customer record", "tags": ["identity"], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/customers/{id}/orders": {"get": {"summary": "All orders of a customer", "tags": ["orders"], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/contractors/{id}": {"get": {"summary": "Contractor record", "tags": ["identity"], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/contractors/{id}/stake": {"post": {"summary": "Raise level and deposit collateral", "tags": ["staking"], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LevelRequest"}}], "responses": {"200": {"description": "OK"}}}},
        "/contractors/{id}/withdraw": {"post": {"summary": "Lower level and withdraw collateral", "tags": ["staking"], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LevelRequest"}}], "responses": {"200": {"description": "OK"}}}},
        "/levels": {"get": {"summary": "Level table", "tags": ["staking"], "responses": {"200": {"description": "OK"}}}},
        "/levels/eligible": {"get": {"summary": "Max eligible level for a score", "tags": ["staking"], "parameters": [{"in": "query", "name": "score", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/orders": {
            "get": {"summary": "List orders", "tags": ["orders"], "parameters": [{"in": "query", "name": "status", "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "post": {"summary": "Create an order", "tags": ["orders"], "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/OrderRequest"}}], "responses": {"201": {"description": "Created"}}}
        },
        "/orders/{id}": {"get": {"summary": "Get an order", "tags": ["orders"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "OrderNotFound"}}}},
        "/orders/{id}/assign": {"post": {"summary": "Assign a contractor (customer)", "tags": ["orders"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/orders/{id}/confirm": {"post": {"summary": "Confirm and deploy the escrow (contractor)", "tags": ["orders"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/orders/{id}/cancel": {"post": {"summary": "Cancel a created order (customer)", "tags": ["orders"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}": {"get": {"summary": "Escrow of an order", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/tasks": {
            "get": {"summary": "Tasks and rejected tasks", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}},
            "post": {"summary": "Add a task (contractor)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"201": {"description": "Created"}}}
        },
        "/escrows/{id}/approve": {"post": {"summary": "Approve the live task (client)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/avail": {"post": {"summary": "Release the approved cost (contractor)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/finish-task": {"post": {"summary": "Rate and finish the paid task (client)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/reject": {"post": {"summary": "Reject the initiated task (client)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/finish-work": {"post": {"summary": "Close the escrow and rate the contractor (client)", "tags": ["escrow"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/escrows/{id}/funding-qr": {"get": {"summary": "PNG payment request funding the escrow", "tags": ["escrow"], "produces": ["image/png"], "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}, {"in": "query", "name": "amount", "type": "integer", "required": true}], "responses": {"200": {"description": "PNG"}}}},
        "/token": {"get": {"summary": "Token metadata", "tags": ["token"], "responses": {"200": {"description": "OK"}}}},
        "/token/balances/{address}": {"get": {"summary": "Balance and marketplace allowance", "tags": ["token"], "parameters": [{"in": "path", "name": "address", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/token/approve": {"post": {"summary": "Approve a spender", "tags": ["token"], "responses": {"200": {"description": "OK"}}}},
        "/token/transfer": {"post": {"summary": "Transfer tokens", "tags": ["token"], "responses": {"200": {"description": "OK"}}}},
        "/token/mint": {"post": {"summary": "Mint tokens (owner)", "tags": ["token"], "responses": {"200": {"description": "OK"}}}},
        "/events": {"get": {"summary": "Journaled events; SSE with Accept: text/event-stream", "tags": ["events"], "parameters": [{"in": "query", "name": "type", "type": "string"}, {"in": "query", "name": "user_id", "type": "string"}, {"in": "query", "name": "order_id", "type": "integer"}, {"in": "query", "name": "after", "type": "integer"}, {"in": "query", "name": "limit", "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/events/ws": {"get": {"summary": "Event stream over WebSocket", "tags": ["events"], "responses": {"101": {"description": "Switching Protocols"}}}}
    },
    "definitions": {
        "RegisterRequest": {"type": "object", "required": ["user_id", "role", "name"], "properties": {"user_id": {"type": "string"}, "role": {"description": "0/customer or 1/contractor"}, "name": {"type": "string"}}},
        "LevelRequest": {"type": "object", "required": ["level"], "properties": {"level": {"type": "integer"}}},
        "OrderRequest": {"type": "object", "required": ["customer_id", "title", "category", "level", "budget", "expected_start_date"], "properties": {"customer_id": {"type": "string"}, "title": {"type": "string"}, "description": {"type": "string"}, "category": {"type": "integer"}, "locality": {"type": "string"}, "level": {"type": "integer"}, "budget": {"type": "integer"}, "expected_start_date": {"type": "string", "format": "date-time"}}},
        "Error": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "string"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/marketplace",
	Schemes:          []string{},
	Title:            "BuilderBuddy Marketplace API",
	Description:      "Reputation-gated construction marketplace with staked contractors and per-order task escrows.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
