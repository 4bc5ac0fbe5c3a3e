package traceio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
)

// SidecarSuffix is appended to a store path to name its attribute registry.
const SidecarSuffix = ".attrs.yaml"

// registryPerm is the permission of written registry files.
const registryPerm = 0o644

// Sentinel errors.
var (
	ErrInvalidRegistry = errors.New("invalid attribute registry")
	ErrTooManyQuarks   = errors.New("attribute quark space exhausted")
)

// SidecarPath returns the registry path belonging to storePath.
func SidecarPath(storePath string) string {
	return storePath + SidecarSuffix
}

// Registry maps attribute names to dense quarks assigned in first-seen order.
type Registry struct {
	byName map[string]interval.Quark
	names  []string
	mu     sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]interval.Quark)}
}

// Quark returns the quark of name, assigning the next free one on first use.
func (r *Registry) Quark(name string) (interval.Quark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.byName[name]; ok {
		return q, nil
	}

	if len(r.names) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q", ErrTooManyQuarks, name)
	}

	q := interval.Quark(len(r.names))
	r.byName[name] = q
	r.names = append(r.names, name)

	return q, nil
}

// Lookup returns the quark of an already registered name.
func (r *Registry) Lookup(name string) (interval.Quark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.byName[name]

	return q, ok
}

// Name returns the name registered for q.
func (r *Registry) Name(q interval.Quark) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if q < 0 || int(q) >= len(r.names) {
		return "", false
	}

	return r.names[q], true
}

// NameOr returns the name of q, or its decimal form when q is unregistered.
func (r *Registry) NameOr(q interval.Quark) string {
	if name, ok := r.Name(q); ok {
		return name
	}

	return fmt.Sprintf("#%d", q)
}

// Len returns the number of registered attributes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names)
}

// Names returns the registered names ordered by quark.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.names...)
}

type registryEntry struct {
	Name  string `yaml:"name"`
	Quark int32  `yaml:"quark"`
}

type registryFile struct {
	StoreID    string          `yaml:"store_id"`
	Attributes []registryEntry `yaml:"attributes"`
}

// Save writes the registry as YAML to path, replacing any previous file.
func (r *Registry) Save(path string, storeID uuid.UUID) error {
	doc := registryFile{StoreID: storeID.String()}

	for i, name := range r.Names() {
		doc.Attributes = append(doc.Attributes, registryEntry{Name: name, Quark: safeconv.MustIntToInt32(i)})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode attribute registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write attribute registry: %w", err)
	}

	_, err = tmp.Write(out)
	if err == nil {
		err = tmp.Chmod(registryPerm)
	}

	err = errors.Join(err, tmp.Close())
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write attribute registry: %w", err)
	}

	return nil
}

// LoadRegistry reads a registry written by Save and returns it with the
// store id it was saved for.
func LoadRegistry(path string) (*Registry, uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("read attribute registry: %w", err)
	}

	var doc registryFile

	err = yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, err)
	}

	storeID, err := uuid.Parse(doc.StoreID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: store id: %w", ErrInvalidRegistry, err)
	}

	reg := NewRegistry()
	reg.names = make([]string, len(doc.Attributes))

	for _, entry := range doc.Attributes {
		if entry.Quark < 0 || int(entry.Quark) >= len(doc.Attributes) || reg.names[entry.Quark] != "" {
			return nil, uuid.Nil, fmt.Errorf("%w: quark %d of %q", ErrInvalidRegistry, entry.Quark, entry.Name)
		}

		if _, dup := reg.byName[entry.Name]; dup || entry.Name == "" {
			return nil, uuid.Nil, fmt.Errorf("%w: attribute name %q", ErrInvalidRegistry, entry.Name)
		}

		reg.names[entry.Quark] = entry.Name
		reg.byName[entry.Name] = entry.Quark
	}

	return reg, storeID, nil
}
