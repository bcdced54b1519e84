// ABOUTME: Saved-document data model, error taxonomy and the Backend interface
// ABOUTME: Defines Namespace, Doc and Unit types shared by every persisted-unit medium

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a namespace or document id does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidReference is returned when a document names a namespace that does
// not exist. It wraps ErrNotFound so callers that only check for NotFound keep working.
var ErrInvalidReference = fmt.Errorf("%w: namespace reference", ErrNotFound)

// ErrStorageIO is returned when reading, writing or deleting a persisted unit fails
var ErrStorageIO = errors.New("storage i/o")

// ErrCorruptUnit is returned when an existing persisted unit cannot be decoded.
// The unit is never reset in that case.
var ErrCorruptUnit = fmt.Errorf("%w: corrupt unit", ErrStorageIO)

// ErrInvalidConnectionID is returned for empty or unsafe connection ids
var ErrInvalidConnectionID = errors.New("invalid connection id")

// ErrClosed is returned by mutations on a DocumentStore the registry has
// already dropped. Callers should resolve the connection again.
var ErrClosed = errors.New("document store closed")

// ErrInvalidDocType is returned when creating a document of an unknown type
var ErrInvalidDocType = errors.New("invalid document type")

// DocType enumerates the kinds of saved documents
type DocType string

const (
	DocTypeSQL DocType = "sql"
)

// Valid reports whether t is a known document type
func (t DocType) Valid() bool {
	return t == DocTypeSQL
}

// Namespace is a named grouping of documents within one connection
type Namespace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// NamespaceRef is the copy of a namespace's id and name captured when a
// document is created. It is not updated when the namespace is renamed.
type NamespaceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Doc is a single saved document, e.g. a SQL snippet
type Doc struct {
	ID        string       `json:"id"`
	Type      DocType      `json:"type"`
	Namespace NamespaceRef `json:"namespace"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
}

// DocInput holds the user-editable fields of a document
type DocInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DocGroup is a namespace together with its documents
type DocGroup struct {
	Namespace Namespace `json:"namespace"`
	Docs      []Doc     `json:"docs"`
}

// Unit is the persisted record for one connection. Every mutation
// rewrites the whole unit.
type Unit struct {
	Namespaces []Namespace `json:"namespaces"`
	Docs       []Doc       `json:"docs"`
}

// clone returns a deep copy so callers never share slices with the store
func (u *Unit) clone() *Unit {
	if u == nil {
		return &Unit{Namespaces: []Namespace{}, Docs: []Doc{}}
	}
	out := &Unit{
		Namespaces: make([]Namespace, len(u.Namespaces)),
		Docs:       make([]Doc, len(u.Docs)),
	}
	copy(out.Namespaces, u.Namespaces)
	copy(out.Docs, u.Docs)
	return out
}

// Backend persists whole units keyed by connection id.
//
// Load returns an empty unit when nothing has been persisted yet and an
// error wrapping ErrStorageIO for any other failure. Delete of an absent
// unit succeeds and reports existed=false.
type Backend interface {
	Load(ctx context.Context, connectionID string) (*Unit, error)
	Save(ctx context.Context, connectionID string, unit *Unit) error
	Delete(ctx context.Context, connectionID string) (existed bool, err error)
}

// ValidateConnectionID rejects ids that are empty or unsafe to embed in a file name
func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: connection ID must be provided", ErrInvalidConnectionID)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidConnectionID, id)
	}
	return nil
}
