// Package seed loads templates and directory members from a YAML file.
package seed

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// File is the layout of the seed document
type File struct {
	Templates []entity.WorkflowTemplate `yaml:"templates"`
	Directory []directory.Member        `yaml:"directory"`
}

// Load reads and decodes the seed file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document. Unknown keys are rejected so typos surface early.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.validateDirectory(); err != nil {
		return nil, err
	}
	return &f, nil
}

// validateDirectory rejects members without an ID, duplicated IDs and malformed addresses.
// Templates are validated by the template service when they are seeded.
func (f *File) validateDirectory() error {
	seen := make(map[string]bool, len(f.Directory))
	for i, m := range f.Directory {
		if m.UserID == "" {
			return fmt.Errorf("directory entry %d has no user_id", i)
		}
		if seen[m.UserID] {
			return fmt.Errorf("directory user %q is listed twice", m.UserID)
		}
		seen[m.UserID] = true
		if m.Email != "" {
			if err := utils.ValidateEmail(m.Email); err != nil {
				return fmt.Errorf("directory user %q: %w", m.UserID, err)
			}
		}
	}
	return nil
}
