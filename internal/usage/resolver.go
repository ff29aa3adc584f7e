package usage

// Naming holds the literal parts wrapped around a subscriber identity to form
// its dynamic interface name, e.g. "<pppoe-" + "alice" + ">".
type Naming struct {
	Prefix string
	Suffix string
}

// InterfaceName returns the conventional interface name for a subscriber.
func (n Naming) InterfaceName(subscriberID string) string {
	return n.Prefix + subscriberID + n.Suffix
}

// Resolver maps subscribers to interface counters within one snapshot.
type Resolver struct {
	naming     Naming
	interfaces map[string]Interface
}

// NewResolver indexes a snapshot's interfaces by name. When a name repeats,
// the first occurrence wins.
func NewResolver(naming Naming, interfaces []Interface) *Resolver {
	index := make(map[string]Interface, len(interfaces))
	for _, iface := range interfaces {
		if _, exists := index[iface.Name]; exists {
			continue
		}
		index[iface.Name] = iface
	}
	return &Resolver{naming: naming, interfaces: index}
}

// Resolve returns the interface carrying the subscriber's traffic. The
// conventional name is tried first, then an exact match on the identity.
// A miss is normal right after a session comes up.
func (r *Resolver) Resolve(subscriberID string) (Interface, bool) {
	if iface, ok := r.interfaces[r.naming.InterfaceName(subscriberID)]; ok {
		return iface, true
	}
	if iface, ok := r.interfaces[subscriberID]; ok {
		return iface, true
	}
	return Interface{}, false
}
