// Package credentials keeps the auth tokens in an encrypted file. The key is
// derived from the device id, so the file is bound to this installation but
// offers no protection against someone who can read the local database.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
)

var keySalt = []byte("clipkeeper/credentials/v1")

// FileStore implements client.TokenStore.
type FileStore struct {
	path string
	key  []byte
	mu   sync.Mutex
}

func NewFileStore(path, deviceID string) *FileStore {
	return &FileStore{path: path, key: cryptox.DeriveMasterKey([]byte(deviceID), keySalt)}
}

// Load returns (nil, nil) when no credentials are stored. A file that cannot
// be decrypted is reported as a crypto error; callers typically Clear it.
func (s *FileStore) Load(context.Context) (*models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Wrap(common.KindIo, "read credentials", err)
	}
	plain, err := cryptox.OpenBlob(s.key, sealed)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)

	var c models.Credentials
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, common.Wrap(common.KindSerialization, "decode credentials", err)
	}
	return &c, nil
}

func (s *FileStore) Save(_ context.Context, c *models.Credentials) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return common.Wrap(common.KindSerialization, "encode credentials", err)
	}
	defer common.WipeByteArray(plain)

	sealed, err := cryptox.SealBlob(s.key, plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := filex.WriteFileAtomic(s.path, sealed, 0o600); err != nil {
		return common.Wrap(common.KindIo, "write credentials", err)
	}
	return nil
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := filex.RemoveIfExists(s.path); err != nil {
		return common.Wrap(common.KindIo, "remove credentials", err)
	}
	return nil
}
