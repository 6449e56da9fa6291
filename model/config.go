package model

// RegistryConfig is the serialized form of a Registry, embedded in the
// "models" section of icl.yaml.
type RegistryConfig struct {
	Categories map[string]*CategoryConfig `json:"categories,omitempty" yaml:"categories,omitempty"`
	Endpoints  map[string]*EndpointConfig `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Defaults   *DefaultsConfig            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// FromConfig builds a registry on top of the built-in defaults.
// A nil config yields NewDefaultRegistry.
func FromConfig(cfg *RegistryConfig) *Registry {
	r := NewDefaultRegistry()
	if cfg != nil {
		r.MergeFromConfig(cfg)
	}
	return r
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := make(map[string]*CategoryConfig, len(r.categories))
	for k, v := range r.categories {
		cats[string(k)] = v
	}
	defaults := *r.defaults
	return &RegistryConfig{
		Categories: cats,
		Endpoints:  r.endpoints,
		Defaults:   &defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config. Unknown category names
// are kept verbatim so ontologies may define their own.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range cfg.Categories {
		cat := ParseCategory(k)
		if cat == "" {
			cat = Category(k)
		}
		r.categories[cat] = v
	}

	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}

	if cfg.Defaults != nil {
		if cfg.Defaults.Category != "" {
			r.defaults.Category = cfg.Defaults.Category
		}
		if cfg.Defaults.Endpoint != "" {
			r.defaults.Endpoint = cfg.Defaults.Endpoint
		}
	}
}
