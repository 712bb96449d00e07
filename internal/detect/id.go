package detect

import "fmt"

// ID names one boundary detector.
type ID int

const (
	FusedEdges ID = iota
	LSD
	Hough
	GrabCut
	ColorSeg
	LabChroma
	Saliency
)

var idNames = [...]string{
	FusedEdges: "fused_edges",
	LSD:        "lsd",
	Hough:      "hough",
	GrabCut:    "grabcut",
	ColorSeg:   "color_seg",
	LabChroma:  "lab_chroma",
	Saliency:   "saliency",
}

// String returns the detector name used in metadata and logs.
func (id ID) String() string {
	if id < 0 || int(id) >= len(idNames) {
		return fmt.Sprintf("detector(%d)", int(id))
	}
	return idNames[id]
}

// MarshalText encodes the detector by name.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// ParseID maps a detector name back to its ID.
func ParseID(name string) (ID, error) {
	for i, n := range idNames {
		if n == name {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown detector %q", name)
}

// AllIDs lists every detector in declaration order.
func AllIDs() []ID {
	ids := make([]ID, len(idNames))
	for i := range idNames {
		ids[i] = ID(i)
	}
	return ids
}

// Names lists every detector name in declaration order.
func Names() []string {
	ids := AllIDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
