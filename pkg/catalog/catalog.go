// Package catalog produces the per-session tool catalog via tiered
// discovery: live client discovery first, capability-derived synthesis
// second, a static built-in set last.
package catalog

import (
	"github.com/acpkit/acp-go/pkg/protocol"
)

// DiscoveryTier identifies which discovery path produced a catalog.
type DiscoveryTier int

const (
	// TierLive means the client answered the discovery call with tools.
	TierLive DiscoveryTier = 1
	// TierCapability means the catalog was synthesized from the
	// structural capabilities the client advertised at initialize time.
	TierCapability DiscoveryTier = 2
	// TierStatic means the built-in default catalog was used.
	TierStatic DiscoveryTier = 3
)

func (t DiscoveryTier) String() string {
	switch t {
	case TierLive:
		return "live"
	case TierCapability:
		return "capability"
	case TierStatic:
		return "static"
	default:
		return "unknown"
	}
}

// ToolSource records how a catalog entry was bound.
type ToolSource string

const (
	// SourceKnown is a descriptor matched to a built-in implementation
	// by name.
	SourceKnown ToolSource = "known"
	// SourcePassthrough is an unrecognized descriptor bridged
	// generically back to the client.
	SourcePassthrough ToolSource = "passthrough"
	// SourceSynthesized is a tool derived from capabilities or the
	// static default set.
	SourceSynthesized ToolSource = "synthesized"
)

// Entry is one tool in a catalog.
type Entry struct {
	Descriptor protocol.ToolDescriptor
	Source     ToolSource
}

// Catalog is an immutable, ordered tool set with unique names and the
// tier that produced it.
type Catalog struct {
	entries []Entry
	byName  map[string]int
	tier    DiscoveryTier
}

// newCatalog builds a catalog, keeping the first entry for a duplicated
// name.
func newCatalog(tier DiscoveryTier, entries []Entry) *Catalog {
	c := &Catalog{
		byName: make(map[string]int, len(entries)),
		tier:   tier,
	}
	for _, e := range entries {
		if _, dup := c.byName[e.Descriptor.Name]; dup {
			continue
		}
		c.byName[e.Descriptor.Name] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// Tier reports which discovery tier produced this catalog.
func (c *Catalog) Tier() DiscoveryTier { return c.tier }

// Len reports the number of tools.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of the ordered entry list.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Descriptors returns the ordered tool descriptors.
func (c *Catalog) Descriptors() []protocol.ToolDescriptor {
	out := make([]protocol.ToolDescriptor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Names returns the ordered tool names.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Descriptor.Name
	}
	return out
}
