package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"liveboard/internal/docstore"
)

// DocStore is an in-process implementation of docstore.Store. Every write and
// every subscriber delivery happens under one lock, which gives each document's
// subscribers a strictly ordered view of its versions.
type DocStore struct {
	now func() time.Time

	mu       sync.RWMutex
	docs     map[string]docstore.Document
	versions map[string]int64
	docSubs  map[string]map[chan docstore.Snapshot]struct{}
	colSubs  map[string]map[chan docstore.CollectionSnapshot]struct{}
}

var _ docstore.Store = (*DocStore)(nil)

func NewDocStore() *DocStore {
	return NewDocStoreWithClock(time.Now)
}

// NewDocStoreWithClock allows deterministic update times in tests.
func NewDocStoreWithClock(now func() time.Time) *DocStore {
	return &DocStore{
		now:      now,
		docs:     make(map[string]docstore.Document),
		versions: make(map[string]int64),
		docSubs:  make(map[string]map[chan docstore.Snapshot]struct{}),
		colSubs:  make(map[string]map[chan docstore.CollectionSnapshot]struct{}),
	}
}

func (s *DocStore) Get(_ context.Context, path string) (docstore.Document, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (s *DocStore) Put(_ context.Context, path string, value any) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	data, err := docstore.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(path, collection, id, data)
	return nil
}

func (s *DocStore) Patch(ctx context.Context, path string, fields docstore.Fields) error {
	return s.PatchIf(ctx, path, fields)
}

func (s *DocStore) PatchIf(_ context.Context, path string, fields docstore.Fields, conds ...docstore.Filter) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	patch, err := docstore.EncodeFields(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[path]
	if !ok {
		return docstore.ErrNotFound
	}
	matched, err := docstore.Matches(current.Data, conds)
	if err != nil {
		return err
	}
	if !matched {
		return docstore.ErrConditionFailed
	}
	s.writeLocked(path, collection, id, docstore.Merge(current.Data, patch))
	return nil
}

func (s *DocStore) Delete(_ context.Context, path string) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)
	s.versions[path]++
	s.notifyLocked(path, collection)
	return nil
}

func (s *DocStore) Query(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if !docstore.ValidCollection(collection) {
		return nil, docstore.ErrInvalidPath
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collectionLocked(collection)
	out := docs[:0]
	for _, doc := range docs {
		ok, err := docstore.Matches(doc.Data, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *DocStore) Subscribe(ctx context.Context, path string) (<-chan docstore.Snapshot, func(), error) {
	if _, _, err := docstore.Split(path); err != nil {
		return nil, nil, err
	}
	ch := make(chan docstore.Snapshot, 1)

	s.mu.Lock()
	subs, ok := s.docSubs[path]
	if !ok {
		subs = make(map[chan docstore.Snapshot]struct{})
		s.docSubs[path] = subs
	}
	subs[ch] = struct{}{}
	ch <- s.snapshotLocked(path)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.docSubs[path], ch)
			if len(s.docSubs[path]) == 0 {
				delete(s.docSubs, path)
			}
			close(ch)
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

func (s *DocStore) SubscribeCollection(ctx context.Context, collection string) (<-chan docstore.CollectionSnapshot, func(), error) {
	if !docstore.ValidCollection(collection) {
		return nil, nil, docstore.ErrInvalidPath
	}
	ch := make(chan docstore.CollectionSnapshot, 1)

	s.mu.Lock()
	subs, ok := s.colSubs[collection]
	if !ok {
		subs = make(map[chan docstore.CollectionSnapshot]struct{})
		s.colSubs[collection] = subs
	}
	subs[ch] = struct{}{}
	ch <- docstore.CollectionSnapshot{Collection: collection, Docs: s.collectionLocked(collection)}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.colSubs[collection], ch)
			if len(s.colSubs[collection]) == 0 {
				delete(s.colSubs, collection)
			}
			close(ch)
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

// CollectionSubscribers reports how many live subscriptions watch a collection.
func (s *DocStore) CollectionSubscribers(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colSubs[collection])
}

func (s *DocStore) writeLocked(path, collection, id string, data map[string]json.RawMessage) {
	s.versions[path]++
	s.docs[path] = docstore.Document{
		Path:       path,
		ID:         id,
		Version:    s.versions[path],
		UpdateTime: s.now(),
		Data:       data,
	}
	s.notifyLocked(path, collection)
}

func (s *DocStore) notifyLocked(path, collection string) {
	if subs := s.docSubs[path]; len(subs) > 0 {
		snap := s.snapshotLocked(path)
		for ch := range subs {
			docstore.Offer(ch, snap)
		}
	}
	if subs := s.colSubs[collection]; len(subs) > 0 {
		snap := docstore.CollectionSnapshot{Collection: collection, Docs: s.collectionLocked(collection)}
		for ch := range subs {
			docstore.Offer(ch, snap)
		}
	}
}

func (s *DocStore) snapshotLocked(path string) docstore.Snapshot {
	doc, ok := s.docs[path]
	snap := docstore.Snapshot{Path: path, Exists: ok, Version: s.versions[path]}
	if ok {
		snap.Doc = cloneDoc(doc)
	}
	return snap
}

func (s *DocStore) collectionLocked(collection string) []docstore.Document {
	docs := make([]docstore.Document, 0)
	for path, doc := range s.docs {
		parent, _, err := docstore.Split(path)
		if err != nil || parent != collection {
			continue
		}
		docs = append(docs, cloneDoc(doc))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func cloneDoc(doc docstore.Document) docstore.Document {
	out := doc
	out.Data = docstore.Merge(doc.Data, nil)
	return out
}
