package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"fabricsync/internal"
)

// Supplier is one [[supplier]] entry of the registry file.
type Supplier struct {
	Key             string              `toml:"key"`
	Name            string              `toml:"name"`
	Kind            string              `toml:"kind"`
	ScheduleMinutes int                 `toml:"schedule_minutes"`
	Source          internal.SourceSpec `toml:"source"`
}

// Registry is the parsed supplier registry.
type Registry struct {
	Suppliers []Supplier `toml:"supplier"`
}

var knownSourceTypes = map[internal.SourceType]struct{}{
	internal.SourceHTML:     {},
	internal.SourceWorkbook: {},
	internal.SourceGSheet:   {},
	internal.SourceText:     {},
	internal.SourcePDF:      {},
	internal.SourceEmail:    {},
	internal.SourceFile:     {},
}

// LoadSuppliers reads the registry file. A missing file yields an empty registry.
func LoadSuppliers(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Registry{}, nil
		}
		return Registry{}, err
	}
	return ParseSuppliers(data)
}

func ParseSuppliers(data []byte) (Registry, error) {
	var reg Registry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parse supplier registry: %w", err)
	}
	for i := range reg.Suppliers {
		s := &reg.Suppliers[i]
		s.Key = strings.TrimSpace(s.Key)
		if s.Name == "" {
			s.Name = s.Key
		}
		if s.Kind == "" {
			s.Kind = "rules"
		}
		s.Source.Type = internal.SourceType(strings.ToLower(string(s.Source.Type)))
	}
	return reg, nil
}

// Validate checks keys, source types and, when knownKind is given, parser kinds.
func (r Registry) Validate(knownKind func(string) bool) error {
	seen := map[string]struct{}{}
	for i, s := range r.Suppliers {
		if s.Key == "" {
			return fmt.Errorf("supplier #%d: empty key", i+1)
		}
		if _, dup := seen[s.Key]; dup {
			return fmt.Errorf("supplier %s: duplicate key", s.Key)
		}
		seen[s.Key] = struct{}{}
		if _, ok := knownSourceTypes[s.Source.Type]; !ok {
			return fmt.Errorf("supplier %s: unknown source type %q", s.Key, s.Source.Type)
		}
		if knownKind != nil && !knownKind(s.Kind) {
			return fmt.Errorf("supplier %s: unknown parser kind %q", s.Key, s.Kind)
		}
	}
	return nil
}

func (r Registry) Find(key string) (Supplier, bool) {
	for _, s := range r.Suppliers {
		if s.Key == key {
			return s, true
		}
	}
	return Supplier{}, false
}
