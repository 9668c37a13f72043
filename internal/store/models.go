package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        int64
	Username  string
	Name      string
	CreatedAt time.Time
}

// Document is the addressable unit. Content and OriginalContent live in a
// separate document_contents row but are loaded alongside the document; a nil
// OriginalContent means the document has never been saved.
type Document struct {
	ID                 int64
	Title              string
	OwnerID            *int64
	RunKey             *string
	Shared             bool
	IsMainDocument     bool
	ReadAccessKey      *string
	ReadWriteAccessKey *string
	ParentID           *int64
	Content            json.RawMessage
	OriginalContent    json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Owned reports whether the document belongs to the given user.
func (d *Document) Owned(userID int64) bool {
	return d.OwnerID != nil && *d.OwnerID == userID
}

// RunKeyValue returns the run key or "" when the document carries none.
func (d *Document) RunKeyValue() string {
	if d.RunKey == nil {
		return ""
	}
	return *d.RunKey
}
