// Package bolt stores collections and documents in a single bbolt file.
//
// Layout:
//
//	collections        id  -> {seq, collection}
//	collection_order   seq -> id
//	documents/<coll>/by_id   id  -> {seq, fields}
//	documents/<coll>/by_seq  seq -> id
//
// Sequence keys are 8-byte big endian so cursors walk insertion order.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aretw0/quipu/pkg/core"
)

var (
	bucketCollections = []byte("collections")
	bucketOrder       = []byte("collection_order")
	bucketDocuments   = []byte("documents")
	bucketByID        = []byte("by_id")
	bucketBySeq       = []byte("by_seq")
)

type collectionRecord struct {
	Seq        uint64          `json:"seq"`
	Collection core.Collection `json:"collection"`
}

type documentRecord struct {
	Seq    uint64      `json:"seq"`
	Fields core.Fields `json:"fields"`
}

// Repository implements core.CollectionRepository and core.DocumentRepository
// on top of bbolt.
type Repository struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

// Open opens (or creates) the database file at path.
func Open(path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCollections, bucketOrder, bucketDocuments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("bolt repository opened", "path", path)
	return &Repository{db: db, path: path, logger: logger}, nil
}

// Close releases the database file.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string { return r.path }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// CreateCollection implements core.CollectionRepository.
func (r *Repository) CreateCollection(ctx context.Context, c core.Collection) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		colls := tx.Bucket(bucketCollections)
		if colls.Get([]byte(c.ID)) != nil {
			return core.Conflict("collection", c.ID)
		}

		order := tx.Bucket(bucketOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(collectionRecord{Seq: seq, Collection: c})
		if err != nil {
			return err
		}
		if err := colls.Put([]byte(c.ID), data); err != nil {
			return err
		}
		if err := order.Put(seqKey(seq), []byte(c.ID)); err != nil {
			return err
		}

		docs, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(c.ID))
		if err != nil {
			return err
		}
		if _, err := docs.CreateBucketIfNotExists(bucketByID); err != nil {
			return err
		}
		_, err = docs.CreateBucketIfNotExists(bucketBySeq)
		return err
	})
}

// DeleteCollection implements core.CollectionRepository. Remaining documents
// go away with the collection bucket in the same transaction.
func (r *Repository) DeleteCollection(ctx context.Context, id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		colls := tx.Bucket(bucketCollections)
		data := colls.Get([]byte(id))
		if data == nil {
			return core.NotFound("collection", id)
		}
		var rec collectionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if err := colls.Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrder).Delete(seqKey(rec.Seq)); err != nil {
			return err
		}
		err := tx.Bucket(bucketDocuments).DeleteBucket([]byte(id))
		if err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		return nil
	})
}

// ListCollections implements core.CollectionRepository.
func (r *Repository) ListCollections(ctx context.Context) ([]core.Collection, error) {
	var out []core.Collection
	err := r.db.View(func(tx *bbolt.Tx) error {
		colls := tx.Bucket(bucketCollections)
		c := tx.Bucket(bucketOrder).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := colls.Get(id)
			if data == nil {
				continue
			}
			var rec collectionRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode collection %s: %w", id, err)
			}
			out = append(out, rec.Collection)
		}
		return nil
	})
	return out, err
}

// docBuckets returns the by_id and by_seq buckets of a collection, or
// ErrNotFound when the collection is gone.
func docBuckets(tx *bbolt.Tx, coll string) (*bbolt.Bucket, *bbolt.Bucket, error) {
	b := tx.Bucket(bucketDocuments).Bucket([]byte(coll))
	if b == nil {
		return nil, nil, core.NotFound("collection", coll)
	}
	return b.Bucket(bucketByID), b.Bucket(bucketBySeq), nil
}

func decodeDocument(data []byte) (documentRecord, error) {
	var rec documentRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&rec)
	if rec.Fields == nil {
		rec.Fields = core.Fields{}
	}
	return rec, err
}

// Insert implements core.DocumentRepository.
func (r *Repository) Insert(ctx context.Context, doc core.Document) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		byID, bySeq, err := docBuckets(tx, doc.CollectionID)
		if err != nil {
			return err
		}
		if byID.Get([]byte(doc.ID)) != nil {
			return core.Conflict("document", doc.ID)
		}
		seq, err := bySeq.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(documentRecord{Seq: seq, Fields: doc.Fields})
		if err != nil {
			return err
		}
		if err := byID.Put([]byte(doc.ID), data); err != nil {
			return err
		}
		return bySeq.Put(seqKey(seq), []byte(doc.ID))
	})
}

// Replace implements core.DocumentRepository.
func (r *Repository) Replace(ctx context.Context, doc core.Document) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		byID, _, err := docBuckets(tx, doc.CollectionID)
		if err != nil {
			return err
		}
		old := byID.Get([]byte(doc.ID))
		if old == nil {
			return core.NotFound("document", doc.ID)
		}
		rec, err := decodeDocument(old)
		if err != nil {
			return err
		}
		data, err := json.Marshal(documentRecord{Seq: rec.Seq, Fields: doc.Fields})
		if err != nil {
			return err
		}
		return byID.Put([]byte(doc.ID), data)
	})
}

// Get implements core.DocumentRepository.
func (r *Repository) Get(ctx context.Context, coll, id string) (core.Document, error) {
	var doc core.Document
	err := r.db.View(func(tx *bbolt.Tx) error {
		byID, _, err := docBuckets(tx, coll)
		if err != nil {
			return err
		}
		data := byID.Get([]byte(id))
		if data == nil {
			return core.NotFound("document", id)
		}
		rec, err := decodeDocument(data)
		if err != nil {
			return err
		}
		doc = core.Document{ID: id, CollectionID: coll, Fields: rec.Fields}
		return nil
	})
	return doc, err
}

// Remove implements core.DocumentRepository.
func (r *Repository) Remove(ctx context.Context, coll, id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		byID, bySeq, err := docBuckets(tx, coll)
		if err != nil {
			return err
		}
		data := byID.Get([]byte(id))
		if data == nil {
			return core.NotFound("document", id)
		}
		rec, err := decodeDocument(data)
		if err != nil {
			return err
		}
		if err := byID.Delete([]byte(id)); err != nil {
			return err
		}
		return bySeq.Delete(seqKey(rec.Seq))
	})
}

// Scan implements core.DocumentRepository. fn runs inside a read
// transaction and must not write to the repository.
func (r *Repository) Scan(ctx context.Context, coll string, fn func(core.Document) bool) error {
	return r.db.View(func(tx *bbolt.Tx) error {
		byID, bySeq, err := docBuckets(tx, coll)
		if err != nil {
			return err
		}
		c := bySeq.Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := byID.Get(id)
			if data == nil {
				continue
			}
			rec, err := decodeDocument(data)
			if err != nil {
				return fmt.Errorf("decode document %s: %w", id, err)
			}
			if !fn(core.Document{ID: string(id), CollectionID: coll, Fields: rec.Fields}) {
				return nil
			}
		}
		return nil
	})
}

// Purge implements core.DocumentRepository.
func (r *Repository) Purge(ctx context.Context, coll string) (int, error) {
	var n int
	err := r.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments).Bucket([]byte(coll))
		if docs == nil {
			return core.NotFound("collection", coll)
		}
		n = docs.Bucket(bucketByID).Stats().KeyN
		for _, name := range [][]byte{bucketByID, bucketBySeq} {
			if err := docs.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := docs.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string { return "bolt" }

var (
	_ core.CollectionRepository = (*Repository)(nil)
	_ core.DocumentRepository   = (*Repository)(nil)
)
