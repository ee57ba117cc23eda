// Package regions loads the catalog of group chat rooms.
package regions

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GlobalID is the region every catalog contains.
const GlobalID = "global"

// RoomKeyPrefix prefixes a region id to form its group room key.
const RoomKeyPrefix = "group_"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Region is one group chat category.
//
// Precondition: ID must be a lowercase slug after loading.
type Region struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// RoomKey returns the stable key of the region's group room.
func (r *Region) RoomKey() string {
	return RoomKeyPrefix + r.ID
}

// DisplayName returns Name, falling back to ID.
func (r *Region) DisplayName() string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

// LoadRegions reads every .yaml or .yml file in dir as a Region.
//
// Precondition: dir must be a readable directory path.
// Postcondition: Returns the parsed regions sorted by file name, or a non-nil error.
func LoadRegions(dir string) ([]*Region, error) {
	files, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Region, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var r Region
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parsing region file %s: %w", path, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Catalog indexes regions by id.
type Catalog struct {
	byID  map[string]*Region
	order []*Region
}

// NewCatalog validates regions and builds a Catalog. The global region is
// added first when the input does not define it.
//
// Postcondition: Returns an error naming every invalid or duplicate id.
func NewCatalog(regions []*Region) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Region)}
	var errs []string
	for _, r := range regions {
		r.ID = strings.ToLower(strings.TrimSpace(r.ID))
		if !idPattern.MatchString(r.ID) {
			errs = append(errs, fmt.Sprintf("region id %q must be a lowercase slug", r.ID))
			continue
		}
		if _, dup := c.byID[r.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate region id %q", r.ID))
			continue
		}
		c.byID[r.ID] = r
		c.order = append(c.order, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid region catalog: %s", strings.Join(errs, "; "))
	}
	if _, ok := c.byID[GlobalID]; !ok {
		g := &Region{ID: GlobalID, Name: "Global", Description: "Everyone, everywhere."}
		c.byID[GlobalID] = g
		c.order = append([]*Region{g}, c.order...)
	}
	return c, nil
}

// DefaultCatalog returns a catalog holding only the global region.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(nil)
	return c
}

// Load reads dir and builds a Catalog from it.
func Load(dir string) (*Catalog, error) {
	rs, err := LoadRegions(dir)
	if err != nil {
		return nil, err
	}
	return NewCatalog(rs)
}

// Lookup finds a region by id. Matching ignores case and surrounding
// whitespace, and an empty id selects the global region.
func (c *Catalog) Lookup(id string) (*Region, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		id = GlobalID
	}
	r, ok := c.byID[id]
	return r, ok
}

// All returns every region, global first, then in load order.
func (c *Catalog) All() []*Region {
	out := make([]*Region, len(c.order))
	copy(out, c.order)
	return out
}
