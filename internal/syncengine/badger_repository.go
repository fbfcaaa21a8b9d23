package syncengine

import (
	"encoding/json"
	"errors"
	"fmt"

	"wordchain-server/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ Repository = (*BadgerRepository)(nil)

var storyKeyPrefix = []byte("story:")

// BadgerRepository - локальный кэш историй на диске, переживает рестарт процесса.
type BadgerRepository struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadgerRepository opens (or creates) the cache at path. An empty path keeps the cache in memory.
func OpenBadgerRepository(path string, logger *zap.Logger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open story cache: %w", err)
	}
	return NewBadgerRepository(db, logger), nil
}

func NewBadgerRepository(db *badger.DB, logger *zap.Logger) *BadgerRepository {
	return &BadgerRepository{db: db, logger: logger.Named("BadgerStoryCache")}
}

func storyKey(id uuid.UUID) []byte {
	return append(append([]byte{}, storyKeyPrefix...), id.String()...)
}

func (r *BadgerRepository) Get(id uuid.UUID) (*domain.Story, error) {
	var snap domain.StorySnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storyKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &snap)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("Failed to read cached story", zap.String("storyID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to read cached story %s: %w", id, err)
	}
	return domain.FromSnapshot(snap)
}

func (r *BadgerRepository) Put(story *domain.Story) error {
	data, err := json.Marshal(story.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal story %s: %w", story.ID, err)
	}
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storyKey(story.ID), data)
	}); err != nil {
		r.logger.Error("Failed to cache story", zap.String("storyID", story.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to cache story %s: %w", story.ID, err)
	}
	return nil
}

func (r *BadgerRepository) Delete(id uuid.UUID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storyKey(id))
	})
}

// List читает все истории по префиксу ключа.
func (r *BadgerRepository) List() ([]*domain.Story, error) {
	var stories []*domain.Story
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(storyKeyPrefix); it.ValidForPrefix(storyKeyPrefix); it.Next() {
			var snap domain.StorySnapshot
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &snap)
			}); err != nil {
				return fmt.Errorf("failed to decode cached story: %w", err)
			}
			s, err := domain.FromSnapshot(snap)
			if err != nil {
				return err
			}
			stories = append(stories, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stories, nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}
