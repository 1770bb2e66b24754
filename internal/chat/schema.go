package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	errMissingType = errors.New("frame type is required")
	errUnknownType = errors.New("unrecognized frame type")
)

type frameSchemaRegistry struct {
	once    sync.Once
	initErr error
	byType  map[string]*jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchemas() error {
	frameSchemas.once.Do(func() {
		schemas := map[string]string{
			TypeChatMessage:           messageFrameSchema,
			TypeMessageEdited:         messageFrameSchema,
			TypeMessageDeleted:        messageIDFrameSchema,
			TypeMessagePinned:         pinFrameSchema,
			TypeTypingStart:           userFrameSchema,
			TypeTyping:                userFrameSchema,
			TypeTypingStop:            userFrameSchema,
			TypeUserJoined:            userFrameSchema,
			TypeUserLeft:              userFrameSchema,
			TypeRoomHistory:           historyFrameSchema,
			TypeMessageAck:            messageIDFrameSchema,
			TypeRoomLockToggled:       roomLockFrameSchema,
			TypeUserMuteToggled:       userMuteFrameSchema,
			TypeError:                 errorFrameSchema,
			TypeConnectionEstablished: bareFrameSchema,
		}
		frameSchemas.byType = make(map[string]*jsonschema.Schema, len(schemas))
		for name, schema := range schemas {
			compiled, err := jsonschema.CompileString("chat_frame_"+name, schema)
			if err != nil {
				frameSchemas.initErr = err
				return
			}
			frameSchemas.byType[name] = compiled
		}
	})
	return frameSchemas.initErr
}

// validateFrame checks raw against the schema for its declared type.
func validateFrame(frameType string, raw []byte) error {
	if err := initFrameSchemas(); err != nil {
		return err
	}
	if frameType == "" {
		return errMissingType
	}
	schema := frameSchemas.byType[frameType]
	if schema == nil {
		return fmt.Errorf("%w: %q", errUnknownType, frameType)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

const idSchema = `{ "type": ["string", "integer"], "minLength": 1 }`

const userSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": ` + idSchema + `,
    "username": { "type": ["string", "null"] },
    "display_name": { "type": ["string", "null"] },
    "avatar": { "type": ["string", "null"] },
    "is_online": { "type": ["boolean", "null"] }
  },
  "additionalProperties": true
}`

const messageSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": ` + idSchema + `,
    "content": { "type": ["string", "null"] },
    "message_type": { "enum": ["text", "image", "file", "system", null] },
    "sender": { "oneOf": [` + userSchema + `, { "type": "null" }] },
    "is_edited": { "type": ["boolean", "null"] },
    "is_read": { "type": ["boolean", "null"] },
    "created_at": { "type": ["string", "null"] }
  },
  "additionalProperties": true
}`

const messageFrameSchema = `{
  "type": "object",
  "required": ["type", "message"],
  "properties": {
    "type": { "type": "string" },
    "message": ` + messageSchema + `
  },
  "additionalProperties": true
}`

const messageIDFrameSchema = `{
  "type": "object",
  "required": ["type", "message_id"],
  "properties": {
    "type": { "type": "string" },
    "message_id": ` + idSchema + `,
    "status": { "type": ["string", "null"] }
  },
  "additionalProperties": true
}`

const pinFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "anyOf": [
    { "required": ["message"] },
    { "required": ["message_id"] }
  ],
  "properties": {
    "type": { "type": "string" },
    "message": ` + messageSchema + `,
    "message_id": ` + idSchema + `,
    "is_pinned": { "type": "boolean" }
  },
  "additionalProperties": true
}`

const userFrameSchema = `{
  "type": "object",
  "required": ["type", "user"],
  "properties": {
    "type": { "type": "string" },
    "user": ` + userSchema + `
  },
  "additionalProperties": true
}`

const historyFrameSchema = `{
  "type": "object",
  "required": ["type", "messages"],
  "properties": {
    "type": { "type": "string" },
    "messages": { "type": "array", "items": ` + messageSchema + ` }
  },
  "additionalProperties": true
}`

const roomLockFrameSchema = `{
  "type": "object",
  "required": ["type", "data"],
  "properties": {
    "type": { "type": "string" },
    "data": {
      "type": "object",
      "required": ["is_locked"],
      "properties": { "is_locked": { "type": "boolean" } }
    }
  },
  "additionalProperties": true
}`

const userMuteFrameSchema = `{
  "type": "object",
  "required": ["type", "data"],
  "properties": {
    "type": { "type": "string" },
    "data": {
      "type": "object",
      "required": ["user_id", "is_muted"],
      "properties": {
        "user_id": ` + idSchema + `,
        "is_muted": { "type": "boolean" }
      }
    }
  },
  "additionalProperties": true
}`

const errorFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "anyOf": [
    { "required": ["error"], "properties": { "error": { "type": "string" } } },
    { "required": ["message"], "properties": { "message": { "type": "string" } } }
  ],
  "properties": {
    "type": { "type": "string" },
    "code": { "type": ["string", "integer", "null"] }
  },
  "additionalProperties": true
}`

const bareFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": { "type": { "type": "string" } },
  "additionalProperties": true
}`
