package crawler

import "strings"

// Surfaces maps each variant to its search surface URL. Official-website
// searches reuse the generic surface.
type Surfaces struct {
	Google     string `mapstructure:"google"`
	News       string `mapstructure:"news"`
	Regulatory string `mapstructure:"regulatory"`
}

// ProxyPolicy says which variants route their searches through the proxy.
// Exchange searches never do.
type ProxyPolicy struct {
	Google     bool `mapstructure:"google"`
	News       bool `mapstructure:"news"`
	Regulatory bool `mapstructure:"regulatory"`
	Official   bool `mapstructure:"official"`
}

// DefaultProxyPolicy routes every variant through the proxy.
func DefaultProxyPolicy() ProxyPolicy {
	return ProxyPolicy{Google: true, News: true, Regulatory: true, Official: true}
}

// Registry resolves tags to variants. Build it once at startup and share it.
type Registry struct {
	variants map[Tag]Variant
	order    []Tag
}

// NewRegistry builds the four standard variants.
func NewRegistry(surfaces Surfaces, proxy ProxyPolicy, exchanges []Exchange) *Registry {
	if exchanges == nil {
		exchanges = DefaultExchanges()
	}
	return NewRegistryOf(
		Variant{Tag: TagGoogle, Category: CategoryGoogle, Surface: surfaces.Google, RecursesToDirectors: true, UseProxy: proxy.Google},
		Variant{Tag: TagNews, Category: CategoryNews, Surface: surfaces.News, UseProxy: proxy.News},
		Variant{
			Tag: TagRegulatory, Category: CategoryRegulatory, Surface: surfaces.Regulatory,
			UseProxy: proxy.Regulatory, Exchanges: exchanges,
		},
		Variant{Tag: TagOfficial, Category: CategoryOfficial, Surface: surfaces.Google, UseProxy: proxy.Official, SiteRestricted: true},
	)
}

// NewRegistryOf builds a registry from explicit variants.
func NewRegistryOf(variants ...Variant) *Registry {
	r := &Registry{variants: make(map[Tag]Variant, len(variants))}
	for _, v := range variants {
		tag := normalizeTag(string(v.Tag))
		if _, dup := r.variants[tag]; !dup {
			r.order = append(r.order, tag)
		}
		v.Tag = tag
		r.variants[tag] = v
	}
	return r
}

// Lookup resolves name case-insensitively.
func (r *Registry) Lookup(name string) (Variant, bool) {
	v, ok := r.variants[normalizeTag(name)]
	return v, ok
}

// Tags lists registered tags in registration order.
func (r *Registry) Tags() []Tag {
	return append([]Tag(nil), r.order...)
}

func normalizeTag(name string) Tag {
	return Tag(strings.ToUpper(strings.TrimSpace(name)))
}
