package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"docstore/api/internal/store"
)

// markerKeys identify a top-level application document, as opposed to an
// auxiliary document saved in its context. Only key presence matters.
var markerKeys = [...]string{"appName", "appVersion", "appBuildNum"}

func isMainDocument(content json.RawMessage) bool {
	obj, ok := decodeObject(content)
	if !ok {
		return false
	}
	for _, key := range markerKeys {
		if _, present := obj[key]; !present {
			return false
		}
	}
	return true
}

// sharedFromContent reads the legacy embedded permission flag. The stored
// payload is the source of truth for it: a `_permissions` value of 1 means
// shared. Falls back to the given default when the payload is not an object
// or carries no flag.
func sharedFromContent(content json.RawMessage, fallback bool) bool {
	obj, ok := decodeObject(content)
	if !ok {
		return fallback
	}
	raw, present := obj["_permissions"]
	if !present {
		return fallback
	}
	var perm float64
	if err := json.Unmarshal(raw, &perm); err != nil {
		return fallback
	}
	return perm == 1
}

// syncMirrors rewrites the scalar mirrors embedded in a JSON object payload:
// `name` follows the document title and `_permissions` follows the shared
// flag. Non-object payloads and payloads already consistent come back
// unchanged with changed=false, which keeps the sync idempotent.
func syncMirrors(content json.RawMessage, title string, shared bool) (json.RawMessage, bool) {
	obj, ok := decodeObject(content)
	if !ok {
		return content, false
	}

	changed := false

	if raw, present := obj["name"]; present {
		var current string
		if err := json.Unmarshal(raw, &current); err != nil || current != title {
			encoded, err := json.Marshal(title)
			if err != nil {
				return content, false
			}
			obj["name"] = encoded
			changed = true
		}
	}

	if raw, present := obj["_permissions"]; present {
		want := permissionValue(shared)
		if !bytes.Equal(bytes.TrimSpace(raw), want) {
			obj["_permissions"] = want
			changed = true
		}
	}

	if !changed {
		return content, false
	}
	updated, err := json.Marshal(obj)
	if err != nil {
		return content, false
	}
	return updated, true
}

// stripPermissions forces an embedded `_permissions` flag to 0 in the returned
// copy. Used when a non-owner reads a shared document: the copy a third party
// receives is never presented as shared. Read-time only, never persisted.
func stripPermissions(content json.RawMessage) json.RawMessage {
	obj, ok := decodeObject(content)
	if !ok {
		return content
	}
	raw, present := obj["_permissions"]
	if !present || bytes.Equal(bytes.TrimSpace(raw), permissionValue(false)) {
		return content
	}
	obj["_permissions"] = permissionValue(false)
	stripped, err := json.Marshal(obj)
	if err != nil {
		return content
	}
	return stripped
}

func permissionValue(shared bool) json.RawMessage {
	if shared {
		return json.RawMessage("1")
	}
	return json.RawMessage("0")
}

func decodeObject(content json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// commitContent runs the full-save lifecycle for an existing document: mirror
// sync, shared/is-main recomputation, the content write, and the one-time
// original-content snapshot on first save.
func (s *Service) commitContent(ctx context.Context, doc store.Document, content json.RawMessage) error {
	shared := sharedFromContent(content, doc.Shared)
	content, _ = syncMirrors(content, doc.Title, shared)

	if err := s.store.UpdateContent(ctx, doc.ID, content, shared, isMainDocument(content)); err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	if doc.OriginalContent == nil {
		if err := s.store.UpdateOriginalContent(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("snapshot original content: %w", err)
		}
	}
	return nil
}
