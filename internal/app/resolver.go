package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docstore/api/internal/accesskey"
	"docstore/api/internal/store"
)

// Addressing carries the identifying parameters of a request. When several are
// present they are tried in precedence order: record id, then access key, then
// the owner/title/run-key triple.
type Addressing struct {
	RecordID int64
	Key      accesskey.Key
	Owner    string
	Title    string
	RunKey   string
}

// resolveForRead locates a document for the read-side operations. A triple
// lookup without a run key matches regardless of the stored run key; a triple
// lookup with a run key that misses falls back to documents without one, which
// covers documents that predate run-key tagging. A wrong run key never falls
// through to a differently-keyed document.
func (s *Service) resolveForRead(ctx context.Context, addr Addressing) (store.Document, error) {
	return s.resolve(ctx, addr, false)
}

// resolveExact locates a document for the write-side operations (save, rename,
// delete), where the absence of a run key addresses exactly the row without
// one. No fallback applies.
func (s *Service) resolveExact(ctx context.Context, addr Addressing) (store.Document, error) {
	return s.resolve(ctx, addr, true)
}

func (s *Service) resolve(ctx context.Context, addr Addressing, exact bool) (store.Document, error) {
	if addr.RecordID > 0 {
		doc, err := s.store.GetDocument(ctx, addr.RecordID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, errNotFound()
		}
		if err != nil {
			return store.Document{}, fmt.Errorf("resolve by id: %w", err)
		}
		return doc, nil
	}

	if addr.Key.Provided() {
		return s.resolveByKey(ctx, addr.Key)
	}

	if addr.Title == "" {
		return store.Document{}, errMissingParam("recordname")
	}

	ownerID, err := s.resolveOwner(ctx, addr.Owner)
	if err != nil {
		return store.Document{}, err
	}

	var runKey *string
	if addr.RunKey != "" {
		runKey = &addr.RunKey
	}

	var doc store.Document
	switch {
	case exact || runKey != nil:
		doc, err = s.store.FindByOwnerTitleRunKey(ctx, ownerID, addr.Title, runKey)
		if !exact && errors.Is(err, sql.ErrNoRows) && runKey != nil {
			doc, err = s.store.FindByOwnerTitleRunKey(ctx, ownerID, addr.Title, nil)
		}
	default:
		doc, err = s.store.FindByOwnerTitle(ctx, ownerID, addr.Title)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, errNotFound()
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("resolve by triple: %w", err)
	}
	return doc, nil
}

func (s *Service) resolveByKey(ctx context.Context, key accesskey.Key) (store.Document, error) {
	if !key.Valid() {
		return store.Document{}, errMissingParam("accessKey")
	}
	var (
		doc store.Document
		err error
	)
	if key.ReadOnly() {
		doc, err = s.store.FindByReadAccessKey(ctx, key.Value)
	} else {
		doc, err = s.store.FindByReadWriteAccessKey(ctx, key.Value)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, errNotFound()
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("resolve by access key: %w", err)
	}
	return doc, nil
}

// resolveOwner maps an owner username to its user id. An empty or blank owner
// means anonymous (nil constraint); an unknown username fails the whole lookup
// rather than degrading to anonymous.
func (s *Service) resolveOwner(ctx context.Context, owner string) (*int64, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, nil
	}
	user, err := s.store.GetUserByUsername(ctx, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	return &user.ID, nil
}
