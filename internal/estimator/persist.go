package estimator

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Persistable is a classifier whose fitted state can round-trip through JSON.
type Persistable interface {
	Classifier
	MarshalParams() (json.RawMessage, error)
	UnmarshalParams(raw json.RawMessage) error
}

// document is the on-disk envelope: the model field selects the constructor
// on load, params carries the model-specific state.
type document struct {
	Model  string          `json:"model"`
	Params json.RawMessage `json:"params"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Persistable{}
)

// Register associates a model name with its zero-value constructor. Called
// from the model packages' init functions.
func Register(name string, constructor func() Persistable) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = constructor
}

// Registered lists the known model names in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes a fitted model to path.
func Save(c Persistable, path string) error {
	params, err := c.MarshalParams()
	if err != nil {
		return errors.Wrapf(err, "serializing %s", c.Name())
	}
	raw, err := json.Marshal(document{Model: c.Name(), Params: params})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Load reads a model document from path and reconstructs the fitted model
// registered under its name.
func Load(path string) (Persistable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing model file")
	}
	if doc.Model == "" {
		return nil, errors.New("model file is missing the required 'model' field")
	}

	registryMu.RLock()
	constructor, ok := registry[doc.Model]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown model %q (known: %v)", doc.Model, Registered())
	}

	c := constructor()
	if err := c.UnmarshalParams(doc.Params); err != nil {
		return nil, errors.Wrapf(err, "restoring %s", doc.Model)
	}
	return c, nil
}
