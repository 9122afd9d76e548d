// CLAUDE:SUMMARY Manifest YAML schema declaring each catalog: backing file, defaults, fuzzy threshold and synonyms.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest lists the catalogs a Store manages.
type Manifest struct {
	Catalogs []Spec `yaml:"catalogs" json:"catalogs"`
}

// Spec describes one catalog and how raw values are mapped onto it.
type Spec struct {
	ID         string   `yaml:"id" json:"id"`
	File       string   `yaml:"file" json:"file"`
	Defaults   []string `yaml:"defaults" json:"defaults,omitempty"`
	AllowEmpty bool     `yaml:"allow_empty" json:"allow_empty,omitempty"`
	MinRatio   float64  `yaml:"min_ratio" json:"min_ratio"`
	Synonyms   Synonyms `yaml:"synonyms" json:"synonyms,omitempty"`
}

// Catalog IDs of the default manifest.
const (
	Status       = "estatus"
	SecondStatus = "segundo_estatus"
	Branches     = "sucursales"
)

// DefaultManifest returns the pipeline statuses, second-level statuses and
// branches the application ships with.
func DefaultManifest() *Manifest {
	return &Manifest{Catalogs: []Spec{
		{
			ID:   Status,
			File: "estatus.json",
			Defaults: []string{
				"DISPERSADO", "EN ONBOARDING", "PENDIENTE CLIENTE", "PROPUESTA",
				"PENDIENTE DOC", "REC SOBREENDEUDAMIENTO", "REC NO CUMPLE POLITICAS", "REC EDAD",
			},
			MinRatio: DefaultMinRatio,
			Synonyms: Synonyms{
				"en revision": "EN REVISIÓN",
				"en revisión": "EN REVISIÓN",
				"revision":    "EN REVISIÓN",
				"revisión":    "EN REVISIÓN",
			},
		},
		{
			ID:   SecondStatus,
			File: "segundo_estatus.json",
			Defaults: []string{
				"", "DISPERSADO", "EN ONBOARDING", "PEND.ACEPT.CLIENTE", "APROB.CON PROPUESTA",
				"PEND.DOC.PARA EVALUACION", "RECH.SOBREENDEUDAMIENTO", "RECH. TIPO PENSION", "RECH.EDAD",
			},
			AllowEmpty: true,
			MinRatio:   DefaultMinRatio,
		},
		{
			ID:       Branches,
			File:     "sucursales.json",
			Defaults: []string{"TOXQUI", "COLOKTE", "KAPITALIZA"},
			MinRatio: 0.92,
		},
	}}
}

// LoadManifest reads and validates a catalogs.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.Catalogs))
	for i := range m.Catalogs {
		c := &m.Catalogs[i]
		if c.ID == "" {
			return fmt.Errorf("catalog #%d: missing id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("catalog %q declared twice", c.ID)
		}
		seen[c.ID] = true
		if c.File == "" {
			c.File = c.ID + ".json"
		}
		if c.MinRatio == 0 {
			c.MinRatio = DefaultMinRatio
		}
		if c.MinRatio < 0 || c.MinRatio > 1 {
			return fmt.Errorf("catalog %q: min_ratio %v outside [0,1]", c.ID, c.MinRatio)
		}
	}
	return nil
}
