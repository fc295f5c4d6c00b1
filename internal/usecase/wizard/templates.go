package wizard

import (
	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
)

// Template is a deployment preset: a profile set plus starting configuration.
type Template struct {
	ID          string
	Name        string
	Description string
	Profiles    []string
	Config      map[string]any
}

// Catalog is an ordered, read-only set of templates.
type Catalog struct {
	order []string
	byID  map[string]Template
}

// NewCatalog builds a catalog from configuration entries.
func NewCatalog(entries []config.TemplateConfig) *Catalog {
	c := &Catalog{byID: make(map[string]Template, len(entries))}
	for _, e := range entries {
		if _, dup := c.byID[e.ID]; !dup {
			c.order = append(c.order, e.ID)
		}
		c.byID[e.ID] = Template{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Profiles:    domain.NormalizeProfiles(e.Profiles),
			Config:      domain.CloneConfig(e.Config),
		}
	}
	return c
}

// Get returns the template with id.
func (c *Catalog) Get(id string) (Template, bool) {
	if c == nil {
		return Template{}, false
	}
	t, ok := c.byID[id]
	if !ok {
		return Template{}, false
	}
	t.Config = domain.CloneConfig(t.Config)
	return t, true
}

// List returns templates in catalog order.
func (c *Catalog) List() []Template {
	if c == nil {
		return nil
	}
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		t, _ := c.Get(id)
		out = append(out, t)
	}
	return out
}
