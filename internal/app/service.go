package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"docstore/api/internal/accesskey"
	"docstore/api/internal/identity"
	"docstore/api/internal/policy"
	"docstore/api/internal/store"
)

type dataStore interface {
	GetDocument(ctx context.Context, id int64) (store.Document, error)
	FindByOwnerTitleRunKey(ctx context.Context, ownerID *int64, title string, runKey *string) (store.Document, error)
	FindByOwnerTitle(ctx context.Context, ownerID *int64, title string) (store.Document, error)
	FindByReadAccessKey(ctx context.Context, key string) (store.Document, error)
	FindByReadWriteAccessKey(ctx context.Context, key string) (store.Document, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]store.Document, error)
	ListByRunKey(ctx context.Context, runKey string) ([]store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) (store.Document, error)
	UpdateContent(ctx context.Context, id int64, content json.RawMessage, shared, isMain bool) error
	UpdateOriginalContent(ctx context.Context, id int64, content json.RawMessage) error
	UpdateTitle(ctx context.Context, id int64, title string) error
	DeleteDocument(ctx context.Context, id int64) error
	AccessKeysExist(ctx context.Context, readKey, readWriteKey string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	Ping(ctx context.Context) error
}

type Service struct {
	store    dataStore
	identity identity.Provider
}

func New(store dataStore, provider identity.Provider) *Service {
	return &Service{store: store, identity: provider}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identify turns a bearer token and run-key parameter into a caller. A missing
// or unknown token degrades to an anonymous caller; it never fails the request.
func (s *Service) Identify(ctx context.Context, token, runKey string) policy.Caller {
	if token == "" {
		return policy.Anonymous(runKey)
	}
	user, err := s.identity.Lookup(ctx, token)
	if err != nil {
		return policy.Anonymous(runKey)
	}
	if runKey != "" {
		return policy.AuthenticatedWithRunKey(user, runKey)
	}
	return policy.Authenticated(user)
}

// ListItem is the shape of a /document/all entry. The _permissions flag
// mirrors the shared column, not the caller's rights.
type ListItem struct {
	Name        string `json:"name"`
	ID          int64  `json:"id"`
	Permissions int    `json:"_permissions"`
}

func (s *Service) All(ctx context.Context, caller policy.Caller) ([]ListItem, error) {
	if !policy.Evaluate(policy.OpList, nil, caller).Allowed {
		return nil, errPermissions()
	}

	var (
		docs []store.Document
		err  error
	)
	if caller.Authenticated() {
		docs, err = s.store.ListByOwner(ctx, caller.User.ID)
	} else {
		docs, err = s.store.ListByRunKey(ctx, caller.RunKey)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	items := make([]ListItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, ListItem{Name: doc.Title, ID: doc.ID, Permissions: permissionFlag(doc.Shared)})
	}
	return items, nil
}

func permissionFlag(shared bool) int {
	if shared {
		return 1
	}
	return 0
}

// OpenResult is an open response. WillOverwrite and SeededCopy only apply to
// cross-owner opens of shared documents: the first warns that saving will
// replace a same-title document the caller already has, the second that the
// open seeds a fresh copy. They are independent signals, never both true.
type OpenResult struct {
	Content       json.RawMessage
	WillOverwrite bool
	SeededCopy    bool
}

func (s *Service) Open(ctx context.Context, caller policy.Caller, addr Addressing) (OpenResult, error) {
	doc, err := s.resolveForRead(ctx, addr)
	if err != nil {
		return OpenResult{}, err
	}

	decision := policy.Evaluate(policy.OpOpen, &doc, caller)
	if !decision.Allowed {
		return OpenResult{}, denialError(&doc)
	}

	result := OpenResult{Content: doc.Content}
	if decision.Rule == policy.RuleShared {
		result.Content = stripPermissions(doc.Content)
		if caller.CanSave() {
			taken, err := s.titleTaken(ctx, caller, doc.Title)
			if err != nil {
				return OpenResult{}, err
			}
			result.WillOverwrite = taken
			result.SeededCopy = !taken
		}
	}
	return result, nil
}

// OpenOriginal serves the first-save snapshot, falling back to current content
// for documents that predate the snapshot. Absence is never an error.
func (s *Service) OpenOriginal(ctx context.Context, caller policy.Caller, addr Addressing) (json.RawMessage, error) {
	doc, err := s.resolveForRead(ctx, addr)
	if err != nil {
		return nil, err
	}

	decision := policy.Evaluate(policy.OpOpenOriginal, &doc, caller)
	if !decision.Allowed {
		return nil, denialError(&doc)
	}

	content := doc.OriginalContent
	if content == nil {
		content = doc.Content
	}
	if decision.Rule == policy.RuleShared {
		content = stripPermissions(content)
	}
	return content, nil
}

// denialError hides the existence of run-keyed anonymous documents from
// callers holding the wrong key. Every other denial, on owned documents and
// on anonymous documents without a run key, is reported as what it is.
func denialError(doc *store.Document) *DomainError {
	if doc.OwnerID == nil && doc.RunKeyValue() != "" {
		return errNotFound()
	}
	return errPermissions()
}

// titleTaken reports whether a document with this title already exists under
// the caller's own identity and run key.
func (s *Service) titleTaken(ctx context.Context, caller policy.Caller, title string) (bool, error) {
	owner, runKey := callerScope(caller)
	_, err := s.store.FindByOwnerTitleRunKey(ctx, owner, title, runKey)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check title: %w", err)
	}
	return true, nil
}

func callerScope(caller policy.Caller) (*int64, *string) {
	var owner *int64
	if caller.Authenticated() {
		owner = &caller.User.ID
	}
	var runKey *string
	if caller.RunKey != "" {
		runKey = &caller.RunKey
	}
	return owner, runKey
}

type SaveResult struct {
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
	ID     int64  `json:"id"`

	Created bool `json:"-"`
}

// Save is an explicit resolve-then-branch: a document under the caller's own
// identity triple is updated, anything else means a new document is created
// under that triple. Cross-owner saves therefore never touch the source
// document.
func (s *Service) Save(ctx context.Context, caller policy.Caller, title string, body []byte) (SaveResult, error) {
	if title == "" {
		return SaveResult{}, errMissingParam("recordname")
	}
	if err := validDocumentBody(body); err != nil {
		return SaveResult{}, err
	}
	if !caller.CanSave() {
		return SaveResult{}, errPermissions()
	}

	owner, runKey := callerScope(caller)
	doc, err := s.store.FindByOwnerTitleRunKey(ctx, owner, title, runKey)
	switch {
	case err == nil:
		if !policy.Evaluate(policy.OpSave, &doc, caller).Allowed {
			return SaveResult{}, errPermissions()
		}
		if err := s.commitContent(ctx, doc, body); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Status: "Saved", Valid: true, ID: doc.ID}, nil

	case errors.Is(err, sql.ErrNoRows):
		created, err := s.createDocument(ctx, store.Document{Title: title, OwnerID: owner, RunKey: runKey}, body)
		if err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Status: "Created", Valid: true, ID: created.ID, Created: true}, nil

	default:
		return SaveResult{}, fmt.Errorf("find document for save: %w", err)
	}
}

func validDocumentBody(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return errWriteFailed("Content must be valid JSON")
	}
	return nil
}

func (s *Service) createDocument(ctx context.Context, doc store.Document, content json.RawMessage) (store.Document, error) {
	if content != nil {
		shared := sharedFromContent(content, false)
		content, _ = syncMirrors(content, doc.Title, shared)
		doc.Shared = shared
		doc.IsMainDocument = isMainDocument(content)
		doc.Content = content
		doc.OriginalContent = content
	}
	created, err := s.store.InsertDocument(ctx, doc)
	if err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}
	return created, nil
}

// Rename changes a document's title and keeps the embedded name mirror in
// step, in both content and the original snapshot.
func (s *Service) Rename(ctx context.Context, caller policy.Caller, addr Addressing, newTitle string) error {
	if newTitle == "" {
		return errMissingParam("newRecordname")
	}

	doc, err := s.resolveExact(ctx, addr)
	if err != nil {
		return err
	}
	if !policy.Evaluate(policy.OpRename, &doc, caller).Allowed {
		return denialError(&doc)
	}

	_, err = s.store.FindByOwnerTitleRunKey(ctx, doc.OwnerID, newTitle, doc.RunKey)
	if err == nil {
		return errDuplicate()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check rename target: %w", err)
	}

	if err := s.store.UpdateTitle(ctx, doc.ID, newTitle); err != nil {
		return fmt.Errorf("rename document: %w", err)
	}

	if synced, changed := syncMirrors(doc.Content, newTitle, doc.Shared); changed {
		if err := s.store.UpdateContent(ctx, doc.ID, synced, doc.Shared, doc.IsMainDocument); err != nil {
			return fmt.Errorf("sync renamed content: %w", err)
		}
	}
	if synced, changed := syncMirrors(doc.OriginalContent, newTitle, doc.Shared); changed {
		if err := s.store.UpdateOriginalContent(ctx, doc.ID, synced); err != nil {
			return fmt.Errorf("sync renamed original content: %w", err)
		}
	}
	return nil
}

// Delete removes a document and everything created in its context.
func (s *Service) Delete(ctx context.Context, caller policy.Caller, addr Addressing) error {
	doc, err := s.resolveExact(ctx, addr)
	if err != nil {
		return err
	}
	if !policy.Evaluate(policy.OpDelete, &doc, caller).Allowed {
		return denialError(&doc)
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// OpenByKey resolves a document through its capability key. The transport
// derives the read-only headers from the key kind.
func (s *Service) OpenByKey(ctx context.Context, key accesskey.Key) (store.Document, error) {
	if !key.Provided() {
		return store.Document{}, errMissingParam("readAccessKey or readWriteAccessKey")
	}
	doc, err := s.resolveByKey(ctx, key)
	if err != nil {
		return store.Document{}, err
	}
	if !policy.Evaluate(policy.OpOpen, &doc, policy.CapabilityHolder(key)).Allowed {
		return store.Document{}, errPermissions()
	}
	return doc, nil
}

// SaveByKey is a full replace through a read-write capability key. Presenting
// a read-only key is a permission error, not a missing parameter.
func (s *Service) SaveByKey(ctx context.Context, key accesskey.Key, body []byte) (SaveResult, error) {
	if err := requireWriteKey(key); err != nil {
		return SaveResult{}, err
	}
	if err := validDocumentBody(body); err != nil {
		return SaveResult{}, err
	}

	doc, err := s.resolveByKey(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if !policy.Evaluate(policy.OpSave, &doc, policy.CapabilityHolder(key)).Allowed {
		return SaveResult{}, errPermissions()
	}
	if err := s.commitContent(ctx, doc, body); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Status: "Saved", Valid: true, ID: doc.ID}, nil
}

type PatchResult struct {
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
	ID     int64  `json:"id"`
}

// PatchByKey applies an RFC 6902 operation list through a read-write
// capability key.
func (s *Service) PatchByKey(ctx context.Context, key accesskey.Key, body []byte) (PatchResult, error) {
	if err := requireWriteKey(key); err != nil {
		return PatchResult{}, err
	}

	doc, err := s.resolveByKey(ctx, key)
	if err != nil {
		return PatchResult{}, err
	}
	if !policy.Evaluate(policy.OpSave, &doc, policy.CapabilityHolder(key)).Allowed {
		return PatchResult{}, errPermissions()
	}
	patched, err := s.applyPatch(ctx, doc, body)
	if err != nil {
		return PatchResult{}, err
	}
	return PatchResult{Status: "Patched", Valid: true, ID: patched.ID}, nil
}

func requireWriteKey(key accesskey.Key) error {
	if !key.Provided() {
		return errMissingParam("readWriteAccessKey")
	}
	if key.ReadOnly() {
		return errPermissions()
	}
	if !key.ReadWrite() {
		return errMissingParam("readWriteAccessKey")
	}
	return nil
}

type CopyResult struct {
	Status             string `json:"status"`
	Valid              bool   `json:"valid"`
	ID                 int64  `json:"id"`
	ReadAccessKey      string `json:"readAccessKey"`
	ReadWriteAccessKey string `json:"readWriteAccessKey"`
}

// CopyShared clones a shared document into a fresh capability-keyed copy. The
// new read-write key doubles as the copy's run key so the title-uniqueness
// scope stays per-copy. The copy records the source as its parent and starts
// its history over: its original content is the source's current content. The
// copy itself is not shared, so the embedded mirror is rewritten to match.
func (s *Service) CopyShared(ctx context.Context, recordID int64) (CopyResult, error) {
	if recordID <= 0 {
		return CopyResult{}, errMissingParam("recordid")
	}

	source, err := s.store.GetDocument(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return CopyResult{}, errNotFound()
	}
	if err != nil {
		return CopyResult{}, fmt.Errorf("load source document: %w", err)
	}
	if !source.Shared {
		return CopyResult{}, errNotShared()
	}

	readKey, writeKey, err := accesskey.Provision(ctx, s.store.AccessKeysExist)
	if err != nil {
		return CopyResult{}, fmt.Errorf("provision access keys: %w", err)
	}

	content, _ := syncMirrors(source.Content, source.Title, false)
	created, err := s.store.InsertDocument(ctx, store.Document{
		Title:              source.Title,
		RunKey:             &writeKey,
		IsMainDocument:     source.IsMainDocument,
		ReadAccessKey:      &readKey,
		ReadWriteAccessKey: &writeKey,
		ParentID:           &source.ID,
		Content:            content,
		OriginalContent:    content,
	})
	if err != nil {
		return CopyResult{}, fmt.Errorf("copy document: %w", err)
	}
	return CopyResult{
		Status:             "Copied",
		Valid:              true,
		ID:                 created.ID,
		ReadAccessKey:      readKey,
		ReadWriteAccessKey: writeKey,
	}, nil
}

// CreateByKeys creates a capability-only document: freshly provisioned keys,
// run key equal to the read-write key, and no title-uniqueness check (the run
// key alone scopes it). An optional body seeds the initial content.
func (s *Service) CreateByKeys(ctx context.Context, body []byte) (CopyResult, error) {
	var content json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		if !json.Valid(body) {
			return CopyResult{}, errWriteFailed("Content must be valid JSON")
		}
		content = body
	}

	readKey, writeKey, err := accesskey.Provision(ctx, s.store.AccessKeysExist)
	if err != nil {
		return CopyResult{}, fmt.Errorf("provision access keys: %w", err)
	}

	created, err := s.createDocument(ctx, store.Document{
		Title:              titleFromContent(content),
		RunKey:             &writeKey,
		ReadAccessKey:      &readKey,
		ReadWriteAccessKey: &writeKey,
	}, content)
	if err != nil {
		return CopyResult{}, err
	}
	return CopyResult{
		Status:             "Created",
		Valid:              true,
		ID:                 created.ID,
		ReadAccessKey:      readKey,
		ReadWriteAccessKey: writeKey,
	}, nil
}

func titleFromContent(content json.RawMessage) string {
	obj, ok := decodeObject(content)
	if ok {
		if raw, present := obj["name"]; present {
			var name string
			if err := json.Unmarshal(raw, &name); err == nil && name != "" {
				return name
			}
		}
	}
	return "Untitled Document"
}
