package taxonomy

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed data/rubros.json
var datasetFS embed.FS

// Dataset is the on-disk shape of the versioned taxonomy reference data.
type Dataset struct {
	Version       string            `json:"version"`
	Entries       []Entry           `json:"entries"`
	LegacyAliases map[string]string `json:"legacy_aliases"`
}

// Catalog builds the immutable resolution catalog from the dataset.
func (d Dataset) Catalog() *Catalog {
	return NewCatalog(d.Entries, d.LegacyAliases)
}

// LoadEmbedded parses the dataset compiled into the binary. This is the
// default taxonomy source when no external one is configured.
func LoadEmbedded() (Dataset, error) {
	raw, err := datasetFS.ReadFile("data/rubros.json")
	if err != nil {
		return Dataset{}, fmt.Errorf("read embedded dataset: %w", err)
	}
	return ParseDataset(raw)
}

// ParseDataset decodes a taxonomy dataset from JSON.
func ParseDataset(raw []byte) (Dataset, error) {
	var d Dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	if len(d.Entries) == 0 {
		return Dataset{}, fmt.Errorf("dataset %q has no entries", d.Version)
	}
	return d, nil
}
