// Package nameresolver owns the (IndexName -> IndexId) mapping, the single
// source of truth every other tier consults to translate a human-facing
// name into the opaque id it actually operates on.
package nameresolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/8fs-io/ftsd/internal/ftypes"
	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

var bucketNames = []byte("names")

// Store is the bbolt-backed persistence layer for name bindings.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the bbolt database at path and
// ensures the names bucket exists.
func OpenStore(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create name store directory", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to open name store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNames)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create names bucket", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Resolve looks up the binding for name, returning ErrIndexNotFound if absent.
func (s *Store) Resolve(name string) (*ftypes.NameBinding, error) {
	var binding ftypes.NameBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		data := b.Get([]byte(name))
		if data == nil {
			return apperrors.ErrIndexNotFound.WithContext("name", name)
		}
		return json.Unmarshal(data, &binding)
	})
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// Create mints a new IndexId for name, failing with ErrIndexAlreadyExists
// if the name is already bound.
func (s *Store) Create(name string) (*ftypes.NameBinding, error) {
	binding := &ftypes.NameBinding{
		Name:      name,
		ID:        ftypes.NewIndexId(),
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		if b.Get([]byte(name)) != nil {
			return apperrors.ErrIndexAlreadyExists.WithContext("name", name)
		}
		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// GetOrCreate resolves name, transparently creating a binding if one does
// not already exist, as a single atomic round trip.
func (s *Store) GetOrCreate(name string) (*ftypes.NameBinding, bool, error) {
	var binding ftypes.NameBinding
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		if data := b.Get([]byte(name)); data != nil {
			return json.Unmarshal(data, &binding)
		}

		binding = ftypes.NameBinding{
			Name:      name,
			ID:        ftypes.NewIndexId(),
			CreatedAt: time.Now().UTC(),
		}
		created = true
		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return nil, false, err
	}
	return &binding, created, nil
}

// Delete removes the binding for name. It is not an error to delete a name
// that does not exist, matching bbolt's idempotent Bucket.Delete.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		return b.Delete([]byte(name))
	})
}

// Rename moves the binding at oldName to newName, preserving its IndexId.
func (s *Store) Rename(oldName, newName string) (*ftypes.NameBinding, error) {
	var binding ftypes.NameBinding
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)

		data := b.Get([]byte(oldName))
		if data == nil {
			return apperrors.ErrIndexNotFound.WithContext("name", oldName)
		}
		if b.Get([]byte(newName)) != nil {
			return apperrors.ErrIndexAlreadyExists.WithContext("name", newName)
		}
		if err := json.Unmarshal(data, &binding); err != nil {
			return err
		}
		binding.Name = newName

		newData, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(newName), newData); err != nil {
			return err
		}
		return b.Delete([]byte(oldName))
	})
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// List returns every binding in key (name) order, the natural iteration
// order of a bbolt bucket.
func (s *Store) List() ([]ftypes.NameBinding, error) {
	var bindings []ftypes.NameBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		return b.ForEach(func(k, v []byte) error {
			var binding ftypes.NameBinding
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			bindings = append(bindings, binding)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name < bindings[j].Name })
	return bindings, nil
}

// Snapshot copies a consistent point-in-time view of the store into dir,
// using bbolt's supported read-only-transaction CopyFile mechanism.
func (s *Store) Snapshot(dir string) error {
	if err := ensureDir(filepath.Join(dir, "placeholder")); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create snapshot directory", err)
	}

	dest := filepath.Join(dir, "names.db")
	return s.db.View(func(tx *bolt.Tx) error {
		if err := tx.CopyFile(dest, 0600); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to copy name store", err)
		}
		return nil
	})
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0700)
}
