package realm

import "strings"

// LandID identifies one land instance as "landType:instanceId".
type LandID struct {
	Type     string
	Instance string
}

// ParseLandID is total: a string without a separator is a pure type with an
// empty instance, which asks the realm to mint one.
func ParseLandID(s string) LandID {
	typ, inst, found := strings.Cut(s, ":")
	if !found {
		return LandID{Type: s}
	}
	return LandID{Type: typ, Instance: inst}
}

func (id LandID) String() string {
	return id.Type + ":" + id.Instance
}

// HasInstance reports whether the id selects a concrete instance.
func (id LandID) HasInstance() bool { return id.Instance != "" }
