package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"prefrontal/app/config"
	"prefrontal/app/model"

	"github.com/samber/do"
	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
)

var _ do.Shutdownable = (*Service)(nil)

// Service stores every observed message in a bbolt database, one bucket per stream.
type Service struct {
	db *bolt.DB
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return Open(cfg.Archive.Path)
}

func Open(path string) (*Service, error) {
	errb := oops.In("archive").With("path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errb.Wrapf(err, "failed to create archive directory")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errb.Wrapf(err, "failed to open archive")
	}

	return &Service{db: db}, nil
}

func (s *Service) Append(msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, msg := range msgs {
			bucket, err := tx.CreateBucketIfNotExists([]byte(msg.StreamKey))
			if err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}

			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}

			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}

			if err = bucket.Put(sequenceKey(seq), data); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return oops.In("archive").With("count", len(msgs)).Wrapf(err, "failed to append messages")
	}

	return nil
}

// Recent returns up to n newest messages of the stream, oldest first.
func (s *Service) Recent(streamKey string, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	result := make([]model.Message, 0, n)

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(streamKey))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(result) < n; k, v = cursor.Prev() {
			var msg model.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				slog.Warn("Skipping malformed archived message",
					"stream", streamKey,
					"error", err,
				)
				continue
			}

			result = append(result, msg)
		}

		return nil
	})
	if err != nil {
		return nil, oops.In("archive").With("stream", streamKey).Wrapf(err, "failed to read messages")
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result, nil
}

func (s *Service) Shutdown() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)

	return key
}
