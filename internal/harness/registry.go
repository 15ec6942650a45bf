// Package harness implements C12: the translate-execute main loop
// spec.md §4.7 describes, the host helper functions internal/lower's
// emitted CALLs reach, and the device/model registry scaffolding
// spec.md §9 calls out as the system's "global mutable state" concern.
//
// Grounded on brig/kernel/src/host/dbt/models.rs's MODEL_MANAGER
// singleton (register_model/get/load_all) and its ModelDevice's
// block_exec main loop.
package harness

import (
	"fmt"
	"sync"

	"github.com/corvid-dbt/corvid/internal/model"
)

// registry is the process-wide name→Model map, grounded on models.rs's
// `static MODEL_MANAGER: Mutex<BTreeMap<InternedString, Arc<Model>>>`.
// Populated during boot (LoadModels/RegisterModel) before any Core starts;
// read-only for the rest of the process's life, matching spec.md §9's
// "populated during load_all before any core starts".
var registry = struct {
	mu     sync.Mutex
	models map[string]*model.Model
}{models: map[string]*model.Model{}}

// RegisterModel installs m under name, overwriting any previous
// registration — mirrors models.rs's register_model.
func RegisterModel(name string, m *model.Model) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.models[name] = m
}

// LookupModel returns the model registered under name, or an error if
// none was — mirrors models.rs's `get`, but surfaces the miss instead
// of returning an Option the caller must unwrap.
func LookupModel(name string) (*model.Model, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	m, ok := registry.models[name]
	if !ok {
		return nil, fmt.Errorf("harness: no model registered as %q", name)
	}
	return m, nil
}

// LoadModels decodes and registers every model blob in encoded under
// its Model.Name, mirroring models.rs's `load_all` walking a
// filesystem of model files. The actual filesystem walk belongs to
// the caller (cmd/dbtrun); this only does the decode+register step so
// that tests can populate the registry without a filesystem.
func LoadModels(encoded [][]byte) error {
	for _, blob := range encoded {
		m, err := model.Decode(blob)
		if err != nil {
			return fmt.Errorf("harness: decoding model: %w", err)
		}
		RegisterModel(m.Name, m)
	}
	return nil
}
