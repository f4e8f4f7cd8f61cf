package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"liveboard/internal/docstore"
	"liveboard/internal/logging"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxTxAttempts = 8

// DocStore keeps documents in Redis so several server instances can share
// sessions. Layout:
//
//	doc:{path}          JSON {version, updateTime, data}
//	docver:{path}       last version, kept after delete
//	col:{collection}    set of document ids
//	colver:{collection} change counter for the collection
//
// Writes are optimistic WATCH/MULTI transactions. After each commit the new
// version is published on docstore:doc:{path} and docstore:col:{collection};
// subscribers re-read and only forward states newer than the last one sent.
type DocStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	log    logrus.FieldLogger
}

var _ docstore.Store = (*DocStore)(nil)

type Option func(*DocStore)

// WithTTL expires idle documents. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *DocStore) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *DocStore) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *DocStore) { s.log = log }
}

func NewDocStore(client *redis.Client, opts ...Option) *DocStore {
	s := &DocStore{client: client, now: time.Now, log: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Document{}, err
	}
	doc, ok, err := readDoc(ctx, s.client, path)
	if err != nil {
		return docstore.Document{}, err
	}
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return doc, nil
}

func (s *DocStore) Put(ctx context.Context, path string, value any) error {
	data, err := docstore.Encode(value)
	if err != nil {
		return err
	}
	return s.update(ctx, path, func(docstore.Document, bool) (map[string]json.RawMessage, bool, error) {
		return data, false, nil
	})
}

func (s *DocStore) Patch(ctx context.Context, path string, fields docstore.Fields) error {
	return s.PatchIf(ctx, path, fields)
}

func (s *DocStore) PatchIf(ctx context.Context, path string, fields docstore.Fields, conds ...docstore.Filter) error {
	patch, err := docstore.EncodeFields(fields)
	if err != nil {
		return err
	}
	return s.update(ctx, path, func(current docstore.Document, exists bool) (map[string]json.RawMessage, bool, error) {
		if !exists {
			return nil, false, docstore.ErrNotFound
		}
		ok, err := docstore.Matches(current.Data, conds)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, docstore.ErrConditionFailed
		}
		return docstore.Merge(current.Data, patch), false, nil
	})
}

func (s *DocStore) Delete(ctx context.Context, path string) error {
	return s.update(ctx, path, func(docstore.Document, bool) (map[string]json.RawMessage, bool, error) {
		return nil, true, nil
	})
}

func (s *DocStore) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if !docstore.ValidCollection(collection) {
		return nil, docstore.ErrInvalidPath
	}
	docs, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
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
	subCtx, cancel := context.WithCancel(ctx)
	pubsub, err := s.listen(subCtx, docChannel(path))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	first, err := s.snapshot(subCtx, path)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, nil, err
	}

	ch := make(chan docstore.Snapshot, 1)
	ch <- first
	go func() {
		defer close(ch)
		defer pubsub.Close()
		last := first.Version
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				snap, err := s.snapshot(subCtx, path)
				if err != nil {
					if subCtx.Err() == nil {
						s.log.WithError(err).WithField("path", path).Warn("refresh document subscription")
					}
					continue
				}
				if snap.Version <= last {
					continue
				}
				last = snap.Version
				docstore.Offer(ch, snap)
			}
		}
	}()
	return ch, cancel, nil
}

func (s *DocStore) SubscribeCollection(ctx context.Context, collection string) (<-chan docstore.CollectionSnapshot, func(), error) {
	if !docstore.ValidCollection(collection) {
		return nil, nil, docstore.ErrInvalidPath
	}
	subCtx, cancel := context.WithCancel(ctx)
	pubsub, err := s.listen(subCtx, colChannel(collection))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	last, first, err := s.collectionSnapshot(subCtx, collection)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, nil, err
	}

	ch := make(chan docstore.CollectionSnapshot, 1)
	ch <- first
	go func() {
		defer close(ch)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				version, snap, err := s.collectionSnapshot(subCtx, collection)
				if err != nil {
					if subCtx.Err() == nil {
						s.log.WithError(err).WithField("collection", collection).Warn("refresh collection subscription")
					}
					continue
				}
				if version <= last {
					continue
				}
				last = version
				docstore.Offer(ch, snap)
			}
		}
	}()
	return ch, cancel, nil
}

type mutation func(current docstore.Document, exists bool) (data map[string]json.RawMessage, remove bool, err error)

func (s *DocStore) update(ctx context.Context, path string, mutate mutation) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	key, verKey := docKey(path), docVerKey(path)

	var version int64
	txf := func(tx *redis.Tx) error {
		current, exists, err := readDoc(ctx, tx, path)
		if err != nil {
			return err
		}
		data, remove, err := mutate(current, exists)
		if err != nil {
			return err
		}
		if remove && !exists {
			version = 0
			return nil
		}
		version, err = tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		version++

		var raw []byte
		if !remove {
			raw, err = json.Marshal(docstore.Document{Version: version, UpdateTime: s.now().UTC(), Data: data})
			if err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, verKey, version, 0)
			pipe.Incr(ctx, colVerKey(collection))
			if remove {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, colKey(collection), id)
				return nil
			}
			pipe.Set(ctx, key, raw, s.ttl)
			pipe.SAdd(ctx, colKey(collection), id)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key, verKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		if version > 0 {
			s.publish(ctx, path, collection, version)
		}
		return nil
	}
	return fmt.Errorf("write %s: %w", path, err)
}

func (s *DocStore) publish(ctx context.Context, path, collection string, version int64) {
	pipe := s.client.Pipeline()
	pipe.Publish(ctx, docChannel(path), version)
	pipe.Publish(ctx, colChannel(collection), version)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("publish document change")
	}
}

// listen returns once the subscription is confirmed so no later write is missed.
func (s *DocStore) listen(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

func (s *DocStore) snapshot(ctx context.Context, path string) (docstore.Snapshot, error) {
	vals, err := s.client.MGet(ctx, docKey(path), docVerKey(path)).Result()
	if err != nil {
		return docstore.Snapshot{}, err
	}
	snap := docstore.Snapshot{Path: path}
	if raw, ok := vals[0].(string); ok {
		doc, err := decodeDoc(path, raw)
		if err != nil {
			return docstore.Snapshot{}, err
		}
		snap.Exists = true
		snap.Doc = doc
		snap.Version = doc.Version
		return snap, nil
	}
	if raw, ok := vals[1].(string); ok {
		snap.Version, _ = strconv.ParseInt(raw, 10, 64)
	}
	return snap, nil
}

func (s *DocStore) collectionSnapshot(ctx context.Context, collection string) (int64, docstore.CollectionSnapshot, error) {
	version, err := s.client.Get(ctx, colVerKey(collection)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, docstore.CollectionSnapshot{}, err
	}
	docs, err := s.collection(ctx, collection)
	if err != nil {
		return 0, docstore.CollectionSnapshot{}, err
	}
	return version, docstore.CollectionSnapshot{Collection: collection, Docs: docs}, nil
}

func (s *DocStore) collection(ctx context.Context, collection string) ([]docstore.Document, error) {
	docs := make([]docstore.Document, 0)
	ids, err := s.client.SMembers(ctx, colKey(collection)).Result()
	if err != nil || len(ids) == 0 {
		return docs, err
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(docstore.Join(collection, id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired by TTL
			stale = append(stale, ids[i])
			continue
		}
		doc, err := decodeDoc(docstore.Join(collection, ids[i]), raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, colKey(collection), stale...).Err()
	}
	return docs, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readDoc(ctx context.Context, c getter, path string) (docstore.Document, bool, error) {
	raw, err := c.Get(ctx, docKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, err
	}
	doc, err := decodeDoc(path, raw)
	return doc, err == nil, err
}

func decodeDoc(path, raw string) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	_, id, _ := docstore.Split(path)
	doc.Path = path
	doc.ID = id
	if doc.Data == nil {
		doc.Data = map[string]json.RawMessage{}
	}
	return doc, nil
}

func docKey(path string) string           { return "doc:" + path }
func docVerKey(path string) string        { return "docver:" + path }
func colKey(collection string) string     { return "col:" + collection }
func colVerKey(collection string) string  { return "colver:" + collection }
func docChannel(path string) string       { return "docstore:doc:" + path }
func colChannel(collection string) string { return "docstore:col:" + collection }
