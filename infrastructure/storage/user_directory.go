package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
)

// UserDirectory resolves authenticated user ids against the local
// Badger store. Records are JSON under a "user:" key prefix; the
// directory is read-mostly, writes happen through seeding tools.
type UserDirectory struct {
	db *badger.DB
}

func NewUserDirectory(db *badger.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

// GetUserByID retrieves a user record. A missing key maps to
// ErrUserNotFound so callers never see storage internals.
func (d *UserDirectory) GetUserByID(_ context.Context, id string) (domain.User, error) {
	var user domain.User

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})

	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

// PutUser upserts a user record, used by the ops CLI to seed accounts.
func (d *UserDirectory) PutUser(_ context.Context, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", user.ID, err)
	}

	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), data)
	})
}

// ListUsers returns every record under the user prefix, for the ops CLI.
func (d *UserDirectory) ListUsers(_ context.Context) ([]domain.User, error) {
	var users []domain.User

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("user:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var user domain.User
				if err := json.Unmarshal(val, &user); err != nil {
					return err
				}
				users = append(users, user)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
