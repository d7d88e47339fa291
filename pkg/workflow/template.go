// Package workflow manages generation graph templates.
//
// A template is a ComfyUI workflow graph exported as JSON whose string
// values may contain {{PLACEHOLDER}} tokens. Rendering substitutes
// parameters for placeholders with type-aware quoting and validates the
// resulting graph structure.
//
// Templates come from an embedded builtin set and, optionally, a user
// directory whose entries override builtins of the same name. Template
// names are file stems: "image_edit.json" is the template "image_edit".
// Subdirectories are searched one level deep, matching how template
// libraries organize workflow families.
package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Sentinel errors for template operations.
var (
	// ErrTemplateNotFound indicates no template exists with the given name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrUnboundPlaceholder indicates placeholders survived substitution.
	ErrUnboundPlaceholder = errors.New("unbound placeholder")

	// ErrInvalidGraph indicates a graph failed structural validation.
	ErrInvalidGraph = errors.New("invalid graph")
)

// placeholderPattern matches {{NAME}} tokens anywhere in template text.
var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Template is one named workflow graph template.
type Template struct {
	// Name is the template's identity (file stem).
	Name string

	// Source describes where the template came from ("builtin" or the
	// user directory path).
	Source string

	// Raw is the template JSON text, placeholders intact.
	Raw []byte
}

// Params returns the template's placeholder names, sorted and deduplicated.
func (t *Template) Params() []string {
	matches := placeholderPattern.FindAllStringSubmatch(string(t.Raw), -1)
	seen := make(map[string]struct{}, len(matches))
	var params []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		params = append(params, name)
	}
	sort.Strings(params)
	return params
}

// Info summarizes a template for listings.
type Info struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Params []string `json:"params"`
}

// Registry resolves templates by name across layered sources.
type Registry struct {
	builtin fs.FS
	user    fs.FS
	userDir string
}

// NewRegistry creates a registry over the builtin template filesystem.
func NewRegistry(builtin fs.FS) *Registry {
	return &Registry{builtin: builtin}
}

// WithUserFS layers a user filesystem over the builtins. User templates
// shadow builtins with the same name. The label appears as the template
// Source in listings.
func (r *Registry) WithUserFS(fsys fs.FS, label string) *Registry {
	r.user = fsys
	r.userDir = label
	return r
}

// Get returns the template with the given name.
func (r *Registry) Get(name string) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrTemplateNotFound)
	}

	if r.user != nil {
		if raw, ok := findTemplate(r.user, name); ok {
			return &Template{Name: name, Source: r.userDir, Raw: raw}, nil
		}
	}
	if r.builtin != nil {
		if raw, ok := findTemplate(r.builtin, name); ok {
			return &Template{Name: name, Source: "builtin", Raw: raw}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// List enumerates all resolvable templates, user entries first for shadowed
// names, sorted by name.
func (r *Registry) List() ([]Info, error) {
	byName := make(map[string]Info)

	collect := func(fsys fs.FS, source string) error {
		if fsys == nil {
			return nil
		}
		names, err := templateNames(fsys)
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, ok := byName[name]; ok {
				continue
			}
			raw, ok := findTemplate(fsys, name)
			if !ok {
				continue
			}
			t := Template{Name: name, Source: source, Raw: raw}
			byName[name] = Info{Name: name, Source: source, Params: t.Params()}
		}
		return nil
	}

	if err := collect(r.user, r.userDir); err != nil {
		return nil, err
	}
	if err := collect(r.builtin, "builtin"); err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(byName))
	for _, info := range byName {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// findTemplate looks for <name>.json at the root, then one subdirectory
// level down.
func findTemplate(fsys fs.FS, name string) ([]byte, bool) {
	if raw, err := fs.ReadFile(fsys, name+".json"); err == nil {
		return raw, true
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if raw, err := fs.ReadFile(fsys, path.Join(entry.Name(), name+".json")); err == nil {
			return raw, true
		}
	}
	return nil, false
}

// templateNames lists template stems at the root and one level down.
func templateNames(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			sub, err := fs.ReadDir(fsys, entry.Name())
			if err != nil {
				continue
			}
			for _, s := range sub {
				if !s.IsDir() && strings.HasSuffix(s.Name(), ".json") {
					names = append(names, strings.TrimSuffix(s.Name(), ".json"))
				}
			}
			continue
		}
		if strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}
