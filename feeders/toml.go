package feeders

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlFeeder is a feeder that reads TOML files.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified file.
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed reads the whole document into target.
func (t TomlFeeder) Feed(target any) error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return fmt.Errorf("failed to read toml: %w", err)
	}
	if err := toml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal toml: %w", err)
	}
	return nil
}

// FeedKey reads a TOML file and extracts a specific top-level key. A
// missing key leaves the target untouched. Deferred primitive decoding is
// used because TOML has no top-level representation for bare values such
// as arrays of tables.
func (t TomlFeeder) FeedKey(key string, target any) error {
	var doc map[string]toml.Primitive
	md, err := toml.DecodeFile(t.Path, &doc)
	if err != nil {
		return fmt.Errorf("failed to read toml: %w", err)
	}

	prim, exists := doc[key]
	if !exists {
		return nil
	}
	if err := md.PrimitiveDecode(prim, target); err != nil {
		return fmt.Errorf("failed to decode key %q: %w", key, err)
	}
	return nil
}
