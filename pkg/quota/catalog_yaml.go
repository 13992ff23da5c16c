package quota

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogDocument struct {
	Features []FeatureDefinition `yaml:"features"`
	Plans    []Plan              `yaml:"plans"`
}

// LoadCatalogYAML reads a catalog document of the form:
//
//	features:
//	  - code: articles_per_month
//	    name: Articles
//	    unit: article
//	plans:
//	  - id: pro
//	    type: base
//	    duration_days: 30
//	    features:
//	      articles_per_month: 100
//
// Unknown keys are rejected.
func LoadCatalogYAML(r io.Reader) (Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc catalogDocument
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return NewMemoryCatalog(doc.Features, doc.Plans)
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	defer f.Close()
	return LoadCatalogYAML(f)
}
