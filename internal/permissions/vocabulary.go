package permissions

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// VocabularyFile is the YAML document administrators use to extend the
// permission vocabulary at deployment time.
//
//	permissions:
//	  - id: approve_discharge
//	    module: wards
//	    description: Approve patient discharge
type VocabularyFile struct {
	Permissions []Permission `yaml:"permissions"`
}

// LoadVocabulary registers every permission listed in the YAML document.
// Entries already present in the registry are skipped, so loading the same
// file twice is harmless. It returns the IDs that were newly registered.
func LoadVocabulary(r io.Reader) ([]string, error) {
	var file VocabularyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("permission: decode vocabulary: %w", err)
	}

	var added []string
	for i := range file.Permissions {
		perm := file.Permissions[i]
		if Exists(perm.ID) {
			continue
		}
		if err := Register(&perm); err != nil {
			return added, err
		}
		added = append(added, perm.ID)
	}
	return added, nil
}

// LoadVocabularyFile is LoadVocabulary for a path on disk.
func LoadVocabularyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("permission: open vocabulary: %w", err)
	}
	defer f.Close()
	return LoadVocabulary(f)
}
