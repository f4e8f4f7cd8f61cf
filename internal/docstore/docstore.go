// Package docstore defines the reactive key-document store the session managers
// coordinate through. Implementations live under internal/infra.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get and Patch when no document exists at the path.
	ErrNotFound = errors.New("document not found")
	// ErrConditionFailed is returned by PatchIf when a precondition does not hold.
	ErrConditionFailed = errors.New("document precondition failed")
	// ErrInvalidPath rejects paths that do not alternate collection/id segments.
	ErrInvalidPath = errors.New("invalid document path")
)

// Fields is a set of top-level field writes. Values are JSON-encoded; nil clears a field to null.
type Fields map[string]any

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Document is a stored JSON object with its per-path version.
type Document struct {
	Path       string                     `json:"-"`
	ID         string                     `json:"-"`
	Version    int64                      `json:"version"`
	UpdateTime time.Time                  `json:"updateTime"`
	Data       map[string]json.RawMessage `json:"data"`
}

// Decode unmarshals the document fields into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Snapshot is the state of one document as seen by a subscriber.
type Snapshot struct {
	Path    string
	Exists  bool
	Version int64
	Doc     Document
}

// CollectionSnapshot is the full membership of a collection, ordered by id.
type CollectionSnapshot struct {
	Collection string
	Docs       []Document
}

// Store is the minimal capability set consumed by the session managers.
//
// Subscriptions deliver the current state immediately and then newer states.
// A slow subscriber may miss intermediate states but never receives an older
// state after a newer one. The returned cancel func is idempotent and closes the
// channel; cancelling ctx has the same effect.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Put(ctx context.Context, path string, value any) error
	Patch(ctx context.Context, path string, fields Fields) error
	PatchIf(ctx context.Context, path string, fields Fields, conds ...Filter) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, func(), error)
	SubscribeCollection(ctx context.Context, collection string) (<-chan CollectionSnapshot, func(), error)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection and id of a document path.
func Split(path string) (collection, id string, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// ValidCollection reports whether collection has an odd number of non-empty segments.
func ValidCollection(collection string) bool {
	segments := strings.Split(collection, "/")
	if len(segments)%2 != 1 {
		return false
	}
	for _, s := range segments {
		if s == "" {
			return false
		}
	}
	return true
}

// Encode turns a JSON-object-shaped value into document fields.
func Encode(value any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	return data, nil
}

// EncodeFields JSON-encodes each field value.
func EncodeFields(fields Fields) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Merge applies encoded field writes onto data, returning a new map.
func Merge(data, patch map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(data)+len(patch))
	for k, v := range data {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Matches reports whether data satisfies every filter. A missing field matches only a nil value.
func Matches(data map[string]json.RawMessage, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false, fmt.Errorf("encode filter %s: %w", f.Field, err)
		}
		got, ok := data[f.Field]
		if !ok {
			got = json.RawMessage("null")
		}
		if !equalJSON(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func equalJSON(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
