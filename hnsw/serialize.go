package hnsw

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/localvec/distance"
)

// FormatVersion is the version written into serialized graphs.
const FormatVersion = 1

// LevelLinks is the neighbour list of one node on one level. It encodes
// as the tuple [level, [neighborId, ...]].
type LevelLinks struct {
	Level int
	IDs   []string
}

// MarshalJSON implements json.Marshaler.
func (l LevelLinks) MarshalJSON() ([]byte, error) {
	ids := l.IDs
	if ids == nil {
		ids = []string{}
	}

	return json.Marshal([]any{l.Level, ids})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *LevelLinks) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}

	if len(tuple) != 2 {
		return fmt.Errorf("hnsw: connection tuple must have 2 elements, got %d", len(tuple))
	}

	if err := json.Unmarshal(tuple[0], &l.Level); err != nil {
		return fmt.Errorf("hnsw: connection level: %w", err)
	}

	return json.Unmarshal(tuple[1], &l.IDs)
}

// NodeSnapshot is the serialized form of one graph node.
type NodeSnapshot struct {
	ID          string       `json:"id"`
	Level       int          `json:"level"`
	Connections []LevelLinks `json:"connections"`
}

// Snapshot is the topology-only serialized form of a graph. Vectors are not
// part of it.
type Snapshot struct {
	Version        int             `json:"version"`
	Dimensions     int             `json:"dimensions"`
	M              int             `json:"m"`
	EfConstruction int             `json:"efConstruction"`
	Metric         distance.Metric `json:"metric"`
	EntryPointID   *string         `json:"entryPointId"`
	MaxLevel       int             `json:"maxLevel"`
	Nodes          []NodeSnapshot  `json:"nodes"`
}

// Snapshot captures the current topology.
func (h *HNSW) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:        FormatVersion,
		Dimensions:     h.dimension,
		M:              h.opts.M,
		EfConstruction: h.opts.EfConstruction,
		Metric:         h.opts.Metric,
		MaxLevel:       h.maxLevel,
		Nodes:          make([]NodeSnapshot, 0, len(h.ids)),
	}

	if h.hasEP {
		ep := h.nodes[h.ep].id
		s.EntryPointID = &ep
	}

	for _, id := range h.IDs() {
		n := h.nodes[h.ids[id]]

		ns := NodeSnapshot{
			ID:          n.id,
			Level:       n.level,
			Connections: make([]LevelLinks, 0, len(n.connections)),
		}

		for l, conns := range n.connections {
			links := LevelLinks{Level: l, IDs: make([]string, len(conns))}
			for i, c := range conns {
				links.IDs[i] = h.nodes[c].id
			}

			ns.Connections = append(ns.Connections, links)
		}

		s.Nodes = append(s.Nodes, ns)
	}

	return s
}

// Serialize encodes the topology as JSON.
func (h *HNSW) Serialize() ([]byte, error) {
	return json.Marshal(h.Snapshot())
}

// ParseSnapshot decodes a serialized graph without building it.
func ParseSnapshot(blob []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return nil, fmt.Errorf("hnsw: empty snapshot")
	}

	s := &Snapshot{}
	if err := json.Unmarshal(blob, s); err != nil {
		return nil, fmt.Errorf("hnsw: decode snapshot: %w", err)
	}

	if s.Version != FormatVersion {
		return nil, fmt.Errorf("hnsw: unsupported snapshot version %d", s.Version)
	}

	return s, nil
}

// Deserialize rebuilds a graph from blob, taking vectors from the supplied
// map. Nodes without a vector of the right length are dropped along with
// every edge pointing at them. The shape (dimension, M, construction size,
// metric) comes from the blob; optFns tune the remaining options.
func Deserialize(blob []byte, vectors map[string][]float32, optFns ...func(o *Options)) (*HNSW, error) {
	s, err := ParseSnapshot(blob)
	if err != nil {
		return nil, err
	}

	return FromSnapshot(s, vectors, optFns...)
}

// FromSnapshot builds a graph from a decoded snapshot. See Deserialize.
func FromSnapshot(s *Snapshot, vectors map[string][]float32, optFns ...func(o *Options)) (*HNSW, error) {
	h, err := New(s.Dimensions, append(optFns, func(o *Options) {
		o.M = s.M
		o.EfConstruction = s.EfConstruction
		o.Metric = s.Metric
	})...)
	if err != nil {
		return nil, err
	}

	for _, ns := range s.Nodes {
		vec, ok := vectors[ns.ID]
		if !ok || len(vec) != h.dimension || ns.ID == "" || ns.Level < 0 || ns.Level > maxLevelCap {
			continue
		}

		if _, dup := h.ids[ns.ID]; dup {
			continue
		}

		v := make([]float32, len(vec))
		copy(v, vec)

		n := &node{
			id:          ns.ID,
			vector:      v,
			level:       ns.Level,
			connections: make([][]uint32, ns.Level+1),
		}

		h.ids[ns.ID] = h.allocSlot(n)
	}

	for _, ns := range s.Nodes {
		slot, ok := h.ids[ns.ID]
		if !ok || h.nodes[slot].level != ns.Level {
			continue
		}

		n := h.nodes[slot]

		for _, links := range ns.Connections {
			if links.Level < 0 || links.Level > n.level {
				continue
			}

			conns := make([]uint32, 0, len(links.IDs))

			for _, nid := range links.IDs {
				target, ok := h.ids[nid]
				if !ok || target == slot || h.nodes[target].level < links.Level {
					continue
				}

				if indexOf(conns, target) < 0 {
					conns = append(conns, target)
				}
			}

			n.connections[links.Level] = conns
		}
	}

	if s.EntryPointID != nil {
		if slot, ok := h.ids[*s.EntryPointID]; ok {
			h.ep, h.hasEP, h.maxLevel = slot, true, h.nodes[slot].level
		}
	}

	if !h.hasEP || h.maxLevel < highestLevel(h) {
		h.reassignEntryPoint()
	}

	return h, nil
}

func highestLevel(h *HNSW) int {
	top := 0

	for _, n := range h.nodes {
		if n != nil && n.level > top {
			top = n.level
		}
	}

	return top
}
