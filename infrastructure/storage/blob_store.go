package storage

import (
	"chat-relay/errors"
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	validKey = regexp.MustCompile(`^[0-9]+(-[0-9a-f]{8})?(\.[A-Za-z0-9]+)?$`)
	validExt = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)
)

const maxCollisionRetries = 5

// DiskBlobStore writes attachments into a single flat directory.
// Keys look like "1700000000000.png"; a collision adds a random suffix
// ("1700000000000-1a2b3c4d.png") rather than overwriting.
type DiskBlobStore struct {
	log   *slog.Logger
	dir   string
	clock func() time.Time
}

func NewDiskBlobStore(log *slog.Logger, dir string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrBlobStore, err)
	}
	return &DiskBlobStore{log: log, dir: dir, clock: time.Now}, nil
}

// Store writes data and returns the generated key.
func (d *DiskBlobStore) Store(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%d", d.clock().UnixMilli())
	ext := extension(fileName)

	key := base + ext
	for attempt := 0; ; attempt++ {
		err := d.write(key, data)
		if err == nil {
			d.log.Debug("Blob stored", "key", key, "size", len(data))
			return key, nil
		}
		if !stderrors.Is(err, fs.ErrExist) || attempt >= maxCollisionRetries {
			return "", fmt.Errorf("%w: %v", errors.ErrBlobStore, err)
		}
		suffix, err := randomSuffix()
		if err != nil {
			return "", fmt.Errorf("%w: %v", errors.ErrBlobStore, err)
		}
		key = base + "-" + suffix + ext
	}
}

func (d *DiskBlobStore) write(key string, data []byte) error {
	f, err := os.OpenFile(filepath.Join(d.dir, key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	return f.Close()
}

// Retrieve only accepts keys this store could have generated.
func (d *DiskBlobStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey.MatchString(key) {
		return nil, errors.ErrBlobNotFound
	}
	data, err := os.ReadFile(filepath.Join(d.dir, key))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrBlobStore, err)
	}
	return data, nil
}

// ContentType sniffs the stored bytes; the client supplied name is not trusted.
func ContentType(data []byte) string {
	return mimetype.Detect(data).String()
}

// extension keeps the last dot separated segment of the client file name.
func extension(fileName string) string {
	i := strings.LastIndex(fileName, ".")
	if i < 0 {
		return ""
	}
	ext := fileName[i+1:]
	if !validExt.MatchString(ext) {
		return ""
	}
	return "." + strings.ToLower(ext)
}

func randomSuffix() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
