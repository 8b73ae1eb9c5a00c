package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"docqa/internal/domain"
	"docqa/internal/port"
)

var _ port.Gateway = (*BoltStore)(nil)

var (
	bucketDocs        = []byte("docs")
	bucketTexts       = []byte("texts")
	bucketChunks      = []byte("chunks")       // docID -> ordinal -> chunk
	bucketSessions    = []byte("sessions")     // sessionID -> session
	bucketDocSessions = []byte("doc_sessions") // docID -> sessionID -> nil
	bucketTurns       = []byte("turns")        // sessionID -> index -> turn
	bucketMeta        = []byte("meta")
)

var allBuckets = [][]byte{bucketDocs, bucketTexts, bucketChunks, bucketSessions, bucketDocSessions, bucketTurns, bucketMeta}

// BoltStore is the embedded single-file Gateway. Every operation runs in one
// bbolt transaction, so a document and its chunk set change together.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

type docMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ChunkCount  int    `json:"chunk_count"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   int64  `json:"created_at"`
}

type chunkRecord struct {
	ID     string `json:"id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
	Vector []byte `json:"vector,omitempty"`
}

type sessionRecord struct {
	DocumentID string `json:"document_id"`
	CreatedAt  int64  `json:"created_at"`
	LastActive int64  `json:"last_active"`
}

type turnRecord struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

func (s *BoltStore) SaveDocument(_ context.Context, doc domain.Document, chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		id := []byte(doc.ID)
		meta := docMeta{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			ChunkCount:  len(chunks),
			Fingerprint: doc.Fingerprint,
			CreatedAt:   doc.CreatedAt.UnixNano(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put(id, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTexts).Put(id, []byte(doc.Text)); err != nil {
			return err
		}

		parent := tx.Bucket(bucketChunks)
		if parent.Bucket(id) != nil {
			if err := parent.DeleteBucket(id); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket(id)
		if err != nil {
			return err
		}
		for _, ch := range chunks {
			data, err := json.Marshal(chunkRecord{
				ID:     ch.ID,
				Start:  ch.Start,
				End:    ch.End,
				Text:   ch.Text,
				Vector: encodeVector(ch.Vector),
			})
			if err != nil {
				return err
			}
			if err := b.Put(ordinalKey(ch.Ordinal), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetDocument(_ context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = readDoc(tx, []byte(id))
		return err
	})
	return doc, err
}

func readDoc(tx *bbolt.Tx, id []byte) (domain.Document, error) {
	data := tx.Bucket(bucketDocs).Get(id)
	if data == nil {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	var meta docMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return domain.Document{
		ID:          string(id),
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Text:        string(tx.Bucket(bucketTexts).Get(id)),
		ChunkCount:  meta.ChunkCount,
		Fingerprint: meta.Fingerprint,
		CreatedAt:   time.Unix(0, meta.CreatedAt).UTC(),
	}, nil
}

func (s *BoltStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, _ []byte) error {
			doc, err := readDoc(tx, k)
			if err != nil {
				return err
			}
			doc.Text = ""
			docs = append(docs, doc)
			return nil
		})
	})
	slices.SortFunc(docs, func(a, b domain.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs, err
}

func (s *BoltStore) LoadChunks(_ context.Context, docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := []byte(docID)
		if tx.Bucket(bucketDocs).Get(id) == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, docID)
		}
		b := tx.Bucket(bucketChunks).Bucket(id)
		if b == nil {
			return nil
		}
		// keys are big-endian ordinals, so cursor order is ordinal order
		return b.ForEach(func(k, v []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode chunk of %s: %w", docID, err)
			}
			vec, err := decodeVector(rec.Vector)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", rec.ID, err)
			}
			chunks = append(chunks, domain.Chunk{
				ID:      rec.ID,
				DocID:   docID,
				Ordinal: keyOrdinal(k),
				Start:   rec.Start,
				End:     rec.End,
				Text:    rec.Text,
				Vector:  vec,
			})
			return nil
		})
	})
	return chunks, err
}

func (s *BoltStore) DeleteDocument(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(id)
		if tx.Bucket(bucketDocs).Get(key) == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		if err := tx.Bucket(bucketDocs).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTexts).Delete(key); err != nil {
			return err
		}
		if err := deleteNested(tx.Bucket(bucketChunks), key); err != nil {
			return err
		}

		docSessions := tx.Bucket(bucketDocSessions)
		if sb := docSessions.Bucket(key); sb != nil {
			var sessionIDs [][]byte
			if err := sb.ForEach(func(k, _ []byte) error {
				sessionIDs = append(sessionIDs, slices.Clone(k))
				return nil
			}); err != nil {
				return err
			}
			for _, sid := range sessionIDs {
				if err := tx.Bucket(bucketSessions).Delete(sid); err != nil {
					return err
				}
				if err := deleteNested(tx.Bucket(bucketTurns), sid); err != nil {
					return err
				}
			}
			if err := docSessions.DeleteBucket(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteNested(parent *bbolt.Bucket, key []byte) error {
	if parent.Bucket(key) == nil {
		return nil
	}
	return parent.DeleteBucket(key)
}

func (s *BoltStore) SaveSession(_ context.Context, sess domain.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		id := []byte(sess.ID)
		if tx.Bucket(bucketDocs).Get([]byte(sess.DocumentID)) == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, sess.DocumentID)
		}
		if existing := tx.Bucket(bucketSessions).Get(id); existing != nil {
			var rec sessionRecord
			if err := json.Unmarshal(existing, &rec); err == nil && rec.DocumentID != sess.DocumentID {
				return fmt.Errorf("%w: %s", domain.ErrSessionMismatch, sess.ID)
			}
		}

		data, err := json.Marshal(sessionRecord{
			DocumentID: sess.DocumentID,
			CreatedAt:  sess.CreatedAt.UnixNano(),
			LastActive: sess.LastActive.UnixNano(),
		})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSessions).Put(id, data); err != nil {
			return err
		}
		idx, err := tx.Bucket(bucketDocSessions).CreateBucketIfNotExists([]byte(sess.DocumentID))
		if err != nil {
			return err
		}
		return idx.Put(id, nil)
	})
}

func (s *BoltStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	var sess domain.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sess, err = readSession(tx, []byte(id))
		return err
	})
	return sess, err
}

func readSession(tx *bbolt.Tx, id []byte) (domain.Session, error) {
	data := tx.Bucket(bucketSessions).Get(id)
	if data == nil {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return domain.Session{
		ID:         string(id),
		DocumentID: rec.DocumentID,
		CreatedAt:  time.Unix(0, rec.CreatedAt).UTC(),
		LastActive: time.Unix(0, rec.LastActive).UTC(),
	}, nil
}

func (s *BoltStore) ListSessions(_ context.Context, docID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketDocSessions).Bucket([]byte(docID))
		if idx == nil {
			return nil
		}
		return idx.ForEach(func(k, _ []byte) error {
			sess, err := readSession(tx, k)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
			return nil
		})
	})
	slices.SortFunc(sessions, func(a, b domain.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions, err
}

func (s *BoltStore) SaveTurn(_ context.Context, t domain.Turn) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sid := []byte(t.SessionID)
		sess, err := readSession(tx, sid)
		if err != nil {
			return err
		}

		b, err := tx.Bucket(bucketTurns).CreateBucketIfNotExists(sid)
		if err != nil {
			return err
		}
		next := 0
		if k, _ := b.Cursor().Last(); k != nil {
			next = keyOrdinal(k) + 1
		}
		if t.Index != next {
			return fmt.Errorf("turn %d out of sequence for session %s (next is %d)", t.Index, t.SessionID, next)
		}
		data, err := json.Marshal(turnRecord{
			Question:  t.Question,
			Answer:    t.Answer,
			Sources:   t.SourceChunkIDs,
			CreatedAt: t.CreatedAt.UnixNano(),
		})
		if err != nil {
			return err
		}
		if err := b.Put(ordinalKey(t.Index), data); err != nil {
			return err
		}

		if t.CreatedAt.After(sess.LastActive) {
			sess.LastActive = t.CreatedAt
			data, err := json.Marshal(sessionRecord{
				DocumentID: sess.DocumentID,
				CreatedAt:  sess.CreatedAt.UnixNano(),
				LastActive: sess.LastActive.UnixNano(),
			})
			if err != nil {
				return err
			}
			return tx.Bucket(bucketSessions).Put(sid, data)
		}
		return nil
	})
}

func (s *BoltStore) LoadTurns(_ context.Context, sessionID string) ([]domain.Turn, error) {
	var turns []domain.Turn
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTurns).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec turnRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode turn of %s: %w", sessionID, err)
			}
			turns = append(turns, domain.Turn{
				SessionID:      sessionID,
				Index:          keyOrdinal(k),
				Question:       rec.Question,
				Answer:         rec.Answer,
				SourceChunkIDs: rec.Sources,
				CreatedAt:      time.Unix(0, rec.CreatedAt).UTC(),
			})
			return nil
		})
	})
	return turns, err
}

func (s *BoltStore) DeleteTurns(_ context.Context, sessionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteNested(tx.Bucket(bucketTurns), []byte(sessionID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
