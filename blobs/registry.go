// Package blobs stores immutable content-addressed byte strings. Module code,
// static files and guest-registered data all live here.
package blobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
)

const (
	abstractPrefix = "/blobs/abstract/"
	bytesPrefix    = "/blobs/bytes/"
	namePrefix     = "/blobs/byname/"
)

// Registry reads and writes blobs through a KV store.
type Registry struct {
	kv     ports.KVStore
	logger *zap.Logger
}

// NewRegistry returns a Registry over kv.
func NewRegistry(kv ports.KVStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{kv: kv, logger: logger.Named("blobs")}
}

// TechID computes the technical id of content.
func TechID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Register stores content and returns its technical id. Registering the same
// bytes twice stores them once.
func (r *Registry) Register(contentType string, content []byte) (string, error) {
	id := TechID(content)

	if _, err := r.kv.Get([]byte(abstractPrefix + id)); err == nil {
		return id, nil
	} else if !errors.Is(err, ports.ErrKeyNotFound) {
		return "", domainerrors.Internal("blob lookup", err)
	}

	abstract, err := json.Marshal(entities.BlobAbstract{ContentType: contentType, Length: len(content)})
	if err != nil {
		return "", fmt.Errorf("marshal blob abstract: %w", err)
	}
	// bytes first so a visible abstract always has its content
	if err := r.kv.Put([]byte(bytesPrefix+id), content); err != nil {
		return "", domainerrors.Internal("blob store", err)
	}
	if err := r.kv.Put([]byte(abstractPrefix+id), abstract); err != nil {
		return "", domainerrors.Internal("blob store", err)
	}
	r.logger.Debug("blob registered", zap.String("tech_id", id), zap.String("content_type", contentType), zap.Int("length", len(content)))
	return id, nil
}

// RegisterWithName stores content and points name at it. An existing name is
// re-pointed.
func (r *Registry) RegisterWithName(name, contentType string, content []byte) (string, error) {
	if name == "" {
		return "", &domainerrors.DecodeError{What: "blob name", Err: errors.New("empty name")}
	}
	id, err := r.Register(contentType, content)
	if err != nil {
		return "", err
	}
	if err := r.kv.Put([]byte(namePrefix+name), []byte(id)); err != nil {
		return "", domainerrors.Internal("blob name", err)
	}
	return id, nil
}

// TechIDFromName resolves a blob name.
func (r *Registry) TechIDFromName(name string) (string, error) {
	v, err := r.kv.Get([]byte(namePrefix + name))
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", domainerrors.NotFound("blob", name)
	}
	if err != nil {
		return "", domainerrors.Internal("blob name", err)
	}
	return string(v), nil
}

// Resolve turns a reference (a name or techID://<id>) into a technical id.
func (r *Registry) Resolve(ref string) (string, error) {
	if id, ok := entities.ParseTechIDRef(ref); ok {
		if _, err := r.Abstract(id); err != nil {
			return "", err
		}
		return id, nil
	}
	return r.TechIDFromName(ref)
}

// Abstract returns the metadata of a blob.
func (r *Registry) Abstract(id string) (entities.BlobAbstract, error) {
	var a entities.BlobAbstract
	v, err := r.kv.Get([]byte(abstractPrefix + id))
	if errors.Is(err, ports.ErrKeyNotFound) {
		return a, domainerrors.NotFound("blob", entities.TechIDRef(id))
	}
	if err != nil {
		return a, domainerrors.Internal("blob abstract", err)
	}
	if err := json.Unmarshal(v, &a); err != nil {
		return a, domainerrors.Internal("blob abstract", err)
	}
	return a, nil
}

// Bytes returns the content of a blob.
func (r *Registry) Bytes(id string) ([]byte, error) {
	v, err := r.kv.Get([]byte(bytesPrefix + id))
	if errors.Is(err, ports.ErrKeyNotFound) {
		return nil, domainerrors.NotFound("blob", entities.TechIDRef(id))
	}
	if err != nil {
		return nil, domainerrors.Internal("blob bytes", err)
	}
	return v, nil
}

// Get resolves ref and loads the blob with its content.
func (r *Registry) Get(ref string) (entities.Blob, error) {
	id, err := r.Resolve(ref)
	if err != nil {
		return entities.Blob{}, err
	}
	a, err := r.Abstract(id)
	if err != nil {
		return entities.Blob{}, err
	}
	b, err := r.Bytes(id)
	if err != nil {
		return entities.Blob{}, err
	}
	return entities.Blob{TechID: id, ContentType: a.ContentType, Bytes: b}, nil
}

// Names lists every blob name, sorted.
func (r *Registry) Names() ([]entities.BlobName, error) {
	var names []entities.BlobName
	err := r.kv.Scan([]byte(namePrefix), func(k, v []byte) bool {
		names = append(names, entities.BlobName{
			Name:   strings.TrimPrefix(string(k), namePrefix),
			TechID: string(v),
		})
		return true
	})
	if err != nil {
		return nil, domainerrors.Internal("blob names", err)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })
	return names, nil
}

// List describes every stored blob in technical id order.
func (r *Registry) List() ([]entities.BlobInfo, error) {
	var infos []entities.BlobInfo
	var decodeErr error
	err := r.kv.Scan([]byte(abstractPrefix), func(k, v []byte) bool {
		var a entities.BlobAbstract
		if err := json.Unmarshal(v, &a); err != nil {
			decodeErr = err
			return false
		}
		infos = append(infos, entities.BlobInfo{
			TechID:       strings.TrimPrefix(string(k), abstractPrefix),
			BlobAbstract: a,
		})
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, domainerrors.Internal("blob list", err)
	}
	return infos, nil
}
