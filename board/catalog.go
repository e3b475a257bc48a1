package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wfunc/gridchase/logger"
)

// RandomBoard asks the catalog to pick any loaded template.
const RandomBoard = "Random"

// MaxViewBytes is the largest encoded createBoard payload one frame can carry.
const MaxViewBytes = math.MaxUint16

var (
	ErrNoTemplates  = errors.New("no board templates loaded")
	ErrUnknownBoard = errors.New("unknown board")
)

// Catalog holds the board templates loaded at startup. It is read-only after Load.
type Catalog struct {
	templates map[string]Template
	names     []string
}

// NewCatalog builds a catalog from already parsed templates. Templates whose
// board would not fit in a single frame are logged and left out.
func NewCatalog(templates map[string]Template) *Catalog {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	for name, t := range templates {
		if name == RandomBoard {
			continue
		}
		if err := checkViewSize(name, t); err != nil {
			logger.Log.Errorf("Skipping board template %s: %v", name, err)
			continue
		}
		c.templates[name] = t
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// LoadCatalog reads every *.json file in dir. A template that cannot be read
// or parsed is logged and skipped; only an empty result is an error.
func LoadCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read boards dir %s: %w", dir, err)
	}

	templates := make(map[string]Template)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if name == RandomBoard {
			logger.Log.Warnf("Skipping board template %s: name is reserved", entry.Name())
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Log.Errorf("Failed to read board template %s: %v", entry.Name(), err)
			continue
		}
		t, err := ParseTemplate(data)
		if err != nil {
			logger.Log.Errorf("Failed to parse board template %s: %v", entry.Name(), err)
			continue
		}
		templates[name] = t
	}

	catalog := NewCatalog(templates)
	if len(catalog.names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTemplates, dir)
	}
	logger.Log.Infof("Loaded %d board templates from %s", len(catalog.names), dir)
	return catalog, nil
}

// checkViewSize builds t once and measures its createBoard encoding.
// Shuffling only permutes kinds, so every board from t encodes to the same size.
func checkViewSize(name string, t Template) error {
	grid, err := FromTemplate(t)
	if err != nil {
		return err
	}
	data, err := json.Marshal(NewBoard(name, grid, nil).View())
	if err != nil {
		return err
	}
	if len(data) > MaxViewBytes {
		return fmt.Errorf("%w: board encodes to %d bytes, limit is %d", ErrInvalidTemplate, len(data), MaxViewBytes)
	}
	return nil
}

// Names lists the template names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Template returns the raw shape of a named template.
func (c *Catalog) Template(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// Resolve maps RandomBoard to a uniformly chosen template name.
func (c *Catalog) Resolve(name string, rng *rand.Rand) (string, error) {
	if name == RandomBoard {
		if len(c.names) == 0 {
			return "", ErrNoTemplates
		}
		return c.names[rng.Intn(len(c.names))], nil
	}
	if _, ok := c.templates[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBoard, name)
	}
	return name, nil
}

// Build creates a fresh, shuffled board from the named template.
func (c *Catalog) Build(name string, rng *rand.Rand) (*Board, error) {
	resolved, err := c.Resolve(name, rng)
	if err != nil {
		return nil, err
	}

	grid, err := FromTemplate(c.templates[resolved])
	if err != nil {
		return nil, err
	}
	grid.ShuffleTileTypes(rng)
	return NewBoard(resolved, grid, rng), nil
}
