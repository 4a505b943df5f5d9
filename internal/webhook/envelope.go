// Package webhook classifies inbound Origin webhook deliveries and
// routes them to the appropriate reconciliation action, including the
// project allowlist gate and first-touch auto-seed behavior.
package webhook

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Envelope is the parsed webhook body, tolerant of the several payload
// shapes Origin has been observed to send.
type Envelope struct {
	ProjectID      int
	EventType      string
	DocumentID     int
	HasDocument    bool
	FolderID       int
	FolderPath     string
	BackgroundSync bool
	Raw            map[string]any
}

type variantInt struct {
	set bool
	val int
}

func (v *variantInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		return nil
	}
	var native struct {
		Native json.Number `json:"native"`
	}
	if err := json.Unmarshal(data, &native); err == nil && native.Native != "" {
		n, err := native.Native.Int64()
		if err != nil {
			return nil
		}
		v.val, v.set = int(n), true
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		n, err := num.Int64()
		if err != nil {
			return nil
		}
		v.val, v.set = int(n), true
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return nil
		}
		v.val, v.set = n, true
		return nil
	}
	return nil
}

// ParseEnvelope extracts the fields the router needs from an
// arbitrarily-shaped webhook body, tolerating string/object variance in
// documentId and projectId the way Origin's payloads do. It also
// unwraps a nested API-Gateway-style envelope (a top-level "body" field
// holding a JSON string, optionally base64-encoded per
// "isBase64Encoded") before any field extraction runs, so a direct
// Origin delivery and one relayed through API Gateway are handled
// identically.
func ParseEnvelope(body []byte, headerEventType string) (Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, err
	}
	raw = unwrapAPIGatewayEnvelope(raw)

	env := Envelope{Raw: raw}
	env.ProjectID = extractProjectID(raw)
	env.EventType = extractEventType(raw, headerEventType)
	if id, ok := extractDocumentID(raw); ok {
		env.DocumentID = id
		env.HasDocument = true
	}
	env.FolderID = extractFolderID(raw)
	env.FolderPath = extractFolderPath(raw)
	env.BackgroundSync = truthy(raw["__background_sync"])
	return env, nil
}

// unwrapAPIGatewayEnvelope replaces raw with the JSON object held in its
// "body" field when that field is a string, the shape API Gateway's
// Lambda proxy integration wraps every delivery in. A body that fails
// to decode (bad base64, invalid JSON) leaves raw unchanged rather than
// discarding the delivery outright; extraction against the outer
// envelope will simply come up empty.
func unwrapAPIGatewayEnvelope(raw map[string]any) map[string]any {
	bodyField, ok := raw["body"]
	if !ok {
		return raw
	}
	bodyStr, ok := bodyField.(string)
	if !ok {
		return raw
	}
	if truthy(raw["isBase64Encoded"]) {
		if decoded, err := base64.StdEncoding.DecodeString(bodyStr); err == nil {
			bodyStr = string(decoded)
		}
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(bodyStr), &inner); err != nil {
		return raw
	}
	return inner
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}

func extractEventType(body map[string]any, headerHint string) string {
	candidates := []any{
		body["eventType"], body["event"], body["type"], body["name"], body["action"], headerHint,
	}
	for _, c := range candidates {
		if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
			return strings.ToLower(strings.TrimSpace(s))
		}
	}
	return ""
}

func extractDocumentID(body map[string]any) (int, bool) {
	for _, key := range []string{"documentId", "DocumentId"} {
		if raw, ok := body[key]; ok {
			if id, ok := coerceVariantInt(raw); ok {
				return id, true
			}
		}
	}
	if payload, ok := body["payload"].(map[string]any); ok {
		if raw, ok := payload["documentId"]; ok {
			if id, ok := coerceVariantInt(raw); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func extractProjectID(body map[string]any) int {
	for _, key := range []string{"projectId", "ProjectId"} {
		if raw, ok := body[key]; ok {
			if id, ok := coerceVariantInt(raw); ok {
				return id
			}
		}
	}
	if payload, ok := body["payload"].(map[string]any); ok {
		for _, key := range []string{"projectId", "ProjectId"} {
			if raw, ok := payload[key]; ok {
				if id, ok := coerceVariantInt(raw); ok {
					return id
				}
			}
		}
	}
	return 0
}

func extractFolderID(body map[string]any) int {
	for _, key := range []string{"folderId", "FolderId"} {
		if raw, ok := body[key]; ok {
			if id, ok := coerceVariantInt(raw); ok {
				return id
			}
		}
	}
	if payload, ok := body["payload"].(map[string]any); ok {
		for _, key := range []string{"folderId", "FolderId"} {
			if raw, ok := payload[key]; ok {
				if id, ok := coerceVariantInt(raw); ok {
					return id
				}
			}
		}
	}
	return 0
}

func extractFolderPath(body map[string]any) string {
	for _, key := range []string{"folderPath", "FolderPath"} {
		if s, ok := body[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if payload, ok := body["payload"].(map[string]any); ok {
		for _, key := range []string{"folderPath", "FolderPath"} {
			if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func coerceVariantInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case map[string]any:
		if native, ok := v["native"]; ok {
			return coerceVariantInt(native)
		}
	}
	return 0, false
}

var deleteTokens = []string{"delete", "deleted", "remove", "removed", "trash", "purge"}
var createOrUpdateTokens = []string{"create", "created", "upload", "uploaded", "update", "updated", "rename", "moved"}

// LooksLikeDelete reports whether an event-type hint names a deletion.
func LooksLikeDelete(eventType string) bool {
	return containsAny(eventType, deleteTokens)
}

// LooksLikeCreateOrUpdate reports whether an event-type hint names a
// creation, update, upload, rename, or move. A hint that LooksLikeDelete
// matches (for example "removed", which contains "moved") never counts.
func LooksLikeCreateOrUpdate(eventType string) bool {
	return !LooksLikeDelete(eventType) && containsAny(eventType, createOrUpdateTokens)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
