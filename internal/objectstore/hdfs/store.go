// Package hdfs implements the objectstore.Store interface against an HDFS
// NameNode, for storage vaults configured with vault.TypeHDFS.
package hdfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/colinmarc/hdfs/v2"
	"github.com/cloudkeep/checkerd/internal/objectstore"
)

// Config configures an HDFS store.
type Config struct {
	// NameNode is the "host:port" address of the HDFS NameNode, or a
	// comma-separated list for HA configurations.
	NameNode string

	// BasePath is prefixed onto every key, giving the vault its own
	// namespace under a shared NameNode (analogous to an S3 bucket).
	BasePath string

	// User is the HDFS user to connect as. Empty uses the OS user, matching
	// colinmarc/hdfs's default behavior.
	User string
}

// Store implements objectstore.Store using a plain HDFS client. HDFS has no
// multipart upload concept, so Store does not implement objectstore.MultipartStore.
type Store struct {
	client   *hdfs.Client
	basePath string
	closed   bool
	mu       sync.RWMutex
}

// New creates a new HDFS store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.NameNode == "" {
		return nil, errors.New("hdfs: name node address is required")
	}

	opts := hdfs.ClientOptions{
		Addresses: strings.Split(cfg.NameNode, ","),
		User:      cfg.User,
	}

	client, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("hdfs: connect to %q: %w", cfg.NameNode, err)
	}

	return &Store{
		client:   client,
		basePath: strings.TrimSuffix(cfg.BasePath, "/"),
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("hdfs: store is closed")
	}
	return nil
}

func (s *Store) fullPath(key string) string {
	if s.basePath == "" {
		return "/" + strings.TrimPrefix(key, "/")
	}
	return s.basePath + "/" + strings.TrimPrefix(key, "/")
}

// Put stores an object at the given key. contentType is accepted for
// interface compliance but HDFS has no content-type concept.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.PutWithOptions(ctx, key, reader, size, contentType, objectstore.PutOptions{})
}

// PutWithOptions stores an object with additional options. HDFS has no
// conditional-write primitive, so opts.IfNoneMatch is rejected rather than
// silently ignored.
func (s *Store) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts objectstore.PutOptions) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if opts.IfNoneMatch != "" {
		return fmt.Errorf("hdfs: conditional put not supported")
	}

	full := s.fullPath(key)
	if err := s.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return s.wrapError("Put", key, err)
	}

	w, err := s.client.Create(full)
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return s.wrapError("Put", key, err)
	}
	if err := w.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

// Get retrieves an entire object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	r, err := s.client.Open(s.fullPath(key))
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	return r, nil
}

// GetRange retrieves a byte range of an object.
func (s *Store) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	r, err := s.client.Open(s.fullPath(key))
	if err != nil {
		return nil, s.wrapError("GetRange", key, err)
	}

	seekTo := start
	if start < 0 {
		seekTo = r.Stat().Size() + start
	}
	if _, err := r.Seek(seekTo, io.SeekStart); err != nil {
		r.Close()
		return nil, s.wrapError("GetRange", key, err)
	}

	if end < 0 {
		return r, nil
	}
	return readCloser{Reader: io.LimitReader(r, end-seekTo+1), Closer: r}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Head retrieves object metadata without the body.
func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	fi, err := s.client.Stat(s.fullPath(key))
	if err != nil {
		return objectstore.ObjectMeta{}, s.wrapError("Head", key, err)
	}
	return objectstore.ObjectMeta{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UnixMilli(),
	}, nil
}

// Delete removes an object. Delete is idempotent, matching objectstore.Store's
// contract: deleting a path that doesn't exist is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	err := s.client.Remove(s.fullPath(key))
	if err != nil {
		wrapped := s.wrapError("Delete", key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// List returns objects matching the given prefix. Vault prefixes are always
// directory paths ("data/<tabletId>/"), so List walks that directory rather
// than attempting a generic key-prefix scan.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	root := s.fullPath(prefix)
	var results []objectstore.ObjectMeta
	err := s.client.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(p, s.basePath+"/")
		results = append(results, objectstore.ObjectMeta{
			Key:          rel,
			Size:         fi.Size(),
			LastModified: fi.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}
	return results, nil
}

// Close releases resources associated with the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *Store) wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}
	if os.IsPermission(err) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

// Verify interface compliance at compile time.
var _ objectstore.Store = (*Store)(nil)
