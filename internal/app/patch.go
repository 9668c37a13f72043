package app

import (
	"bytes"
	"context"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"docstore/api/internal/store"
)

// applyPatch applies an RFC 6902 operation list to the document's content and
// persists the result together with the recomputed row columns in a single
// transaction. A body that fails to parse as a patch array and a patch that
// fails to apply are both client errors, with distinct diagnostics. The
// original-content snapshot is never touched by a patch.
func (s *Service) applyPatch(ctx context.Context, doc store.Document, body []byte) (store.Document, error) {
	patch, err := decodePatch(body)
	if err != nil {
		return store.Document{}, err
	}

	patched, err := patch.Apply(doc.Content)
	if err != nil {
		return store.Document{}, errWriteFailed("Invalid patch JSON (executing)", err.Error())
	}

	shared := sharedFromContent(patched, doc.Shared)
	patched, _ = syncMirrors(patched, doc.Title, shared)
	isMain := isMainDocument(patched)

	if err := s.store.UpdateContent(ctx, doc.ID, patched, shared, isMain); err != nil {
		return store.Document{}, fmt.Errorf("persist patch: %w", err)
	}

	doc.Content = patched
	doc.Shared = shared
	doc.IsMainDocument = isMain
	return doc, nil
}

func decodePatch(body []byte) (jsonpatch.Patch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errWriteFailed("Invalid patch JSON (parsing)")
	}
	patch, err := jsonpatch.DecodePatch(trimmed)
	if err != nil {
		return nil, errWriteFailed("Invalid patch JSON (parsing)", err.Error())
	}
	return patch, nil
}
