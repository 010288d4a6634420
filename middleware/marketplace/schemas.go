package marketplace

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	registerSchemaJSON = `{
  "type": "object",
  "required": ["user_id", "role", "name"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "role": {"oneOf": [
      {"type": "integer", "enum": [0, 1]},
      {"type": "string", "enum": ["0", "1", "customer", "contractor", "CUSTOMER", "CONTRACTOR"]}
    ]},
    "name": {"type": "string", "minLength": 1}
  }
}`

	fulfillSchemaJSON = `{
  "type": "object",
  "required": ["request_id", "score"],
  "properties": {
    "request_id": {"type": "string", "minLength": 1},
    "score": {"type": "integer", "minimum": 0}
  }
}`

	levelSchemaJSON = `{
  "type": "object",
  "required": ["level"],
  "properties": {
    "level": {"type": "integer", "minimum": 0, "maximum": 255}
  }
}`

	orderSchemaJSON = `{
  "type": "object",
  "required": ["customer_id", "title", "category", "level", "budget", "expected_start_date"],
  "properties": {
    "customer_id": {"type": "string", "minLength": 1},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "category": {"type": "integer", "minimum": 0, "maximum": 255},
    "locality": {"type": "string"},
    "level": {"type": "integer", "minimum": 0, "maximum": 255},
    "budget": {"type": "integer", "minimum": 0},
    "expected_start_date": {"type": "string", "minLength": 1}
  }
}`

	assignSchemaJSON = `{
  "type": "object",
  "required": ["customer_id", "contractor_id"],
  "properties": {
    "customer_id": {"type": "string", "minLength": 1},
    "contractor_id": {"type": "string", "minLength": 1}
  }
}`

	confirmSchemaJSON = `{
  "type": "object",
  "required": ["contractor_id"],
  "properties": {
    "contractor_id": {"type": "string", "minLength": 1}
  }
}`

	cancelSchemaJSON = `{
  "type": "object",
  "required": ["customer_id"],
  "properties": {
    "customer_id": {"type": "string", "minLength": 1}
  }
}`

	taskSchemaJSON = `{
  "type": "object",
  "required": ["title", "cost"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "cost": {"type": "integer", "minimum": 0}
  }
}`

	ratingSchemaJSON = `{
  "type": "object",
  "required": ["rating"],
  "properties": {
    "rating": {"type": "integer", "minimum": 0, "maximum": 255}
  }
}`

	approveSchemaJSON = `{
  "type": "object",
  "required": ["spender", "amount"],
  "properties": {
    "spender": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "minimum": 0}
  }
}`

	transferSchemaJSON = `{
  "type": "object",
  "required": ["to", "amount"],
  "properties": {
    "to": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "minimum": 1}
  }
}`

	keySchemaJSON = `{
  "type": "object",
  "properties": {
    "address": {"type": "string", "minLength": 1},
    "label": {"type": "string"}
  }
}`

	adminSchemaJSON = `{
  "type": "object",
  "minProperties": 1,
  "properties": {
    "subscription_id": {"type": "integer", "minimum": 0},
    "gas_limit": {"type": "integer", "minimum": 1, "maximum": 4294967295},
    "secrets": {"type": "string"}
  },
  "additionalProperties": false
}`
)

var (
	registerSchema = jsonschema.MustCompileString("register.json", registerSchemaJSON)
	fulfillSchema  = jsonschema.MustCompileString("fulfill.json", fulfillSchemaJSON)
	levelSchema    = jsonschema.MustCompileString("level.json", levelSchemaJSON)
	orderSchema    = jsonschema.MustCompileString("order.json", orderSchemaJSON)
	assignSchema   = jsonschema.MustCompileString("assign.json", assignSchemaJSON)
	confirmSchema  = jsonschema.MustCompileString("confirm.json", confirmSchemaJSON)
	cancelSchema   = jsonschema.MustCompileString("cancel.json", cancelSchemaJSON)
	taskSchema     = jsonschema.MustCompileString("task.json", taskSchemaJSON)
	ratingSchema   = jsonschema.MustCompileString("rating.json", ratingSchemaJSON)
	approveSchema  = jsonschema.MustCompileString("approve.json", approveSchemaJSON)
	transferSchema = jsonschema.MustCompileString("transfer.json", transferSchemaJSON)
	keySchema      = jsonschema.MustCompileString("key.json", keySchemaJSON)
	adminSchema    = jsonschema.MustCompileString("admin.json", adminSchemaJSON)
)
