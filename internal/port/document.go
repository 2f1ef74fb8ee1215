package port

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the authoritative record of one port's desired state, stored
// as JSON at ConfigKey(port).
type Document struct {
	CargoManifests map[string]CargoManifest `json:"cargo_manifests"`
	Fleets         map[string]FleetSpec     `json:"fleets"`
	Piers          map[string]Pier          `json:"piers"`
}

// CargoManifest is a named, ordered collection of cargo ids.
type CargoManifest struct {
	CargoIDs []string `json:"cargo_ids"`
}

// Pier is a pointer that can be loaded with one cargo id.
type Pier struct {
	CargoID *string `json:"cargo_id"`
}

// FleetSpec describes an autoscale pool fronted by a load balancer.
type FleetSpec struct {
	CallSign              string    `json:"fleet_call_sign,omitempty" yaml:"fleet_call_sign,omitempty"`
	ShipType              string    `json:"ship_type" yaml:"ship_type"`
	Crew                  string    `json:"crew" yaml:"crew"`
	Captain               string    `json:"captain" yaml:"captain"`
	MinSize               int       `json:"min_size" yaml:"min_size"`
	MaxSize               int       `json:"max_size" yaml:"max_size"`
	ReinforcementStrategy string    `json:"reinforcement_strategy" yaml:"reinforcement_strategy"`
	Gangways              []Gangway `json:"gangways,omitempty" yaml:"gangways,omitempty"`
}

// Gangway maps a load balancer entry (pier end) onto a droplet target (ship end).
type Gangway struct {
	PierEnd Dock   `json:"pier_end" yaml:"pier_end"`
	ShipEnd Dock   `json:"ship_end" yaml:"ship_end"`
	Purser  string `json:"purser,omitempty" yaml:"purser,omitempty"` // certificate id
}

// Dock is one protocol/port pair of a gangway.
type Dock struct {
	Type   string `json:"type" yaml:"type"`
	Number int    `json:"number" yaml:"number"`
}

// NewDocument returns an empty document.
func NewDocument() Document {
	return Document{
		CargoManifests: map[string]CargoManifest{},
		Fleets:         map[string]FleetSpec{},
		Piers:          map[string]Pier{},
	}
}

// DecodeDocument parses a stored document. Missing sections decode as empty maps.
func DecodeDocument(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("decode port document: %w", err)
	}
	doc.normalize()
	return doc, nil
}

// Encode serialises the document as UTF-8 JSON.
func (d Document) Encode() ([]byte, error) {
	d.normalize()
	return json.Marshal(d)
}

func (d *Document) normalize() {
	if d.CargoManifests == nil {
		d.CargoManifests = map[string]CargoManifest{}
	}
	for name, m := range d.CargoManifests {
		if m.CargoIDs == nil {
			d.CargoManifests[name] = CargoManifest{CargoIDs: []string{}}
		}
	}
	if d.Fleets == nil {
		d.Fleets = map[string]FleetSpec{}
	}
	if d.Piers == nil {
		d.Piers = map[string]Pier{}
	}
}

// Validate checks the static shape of a fleet spec before any remote call.
func (s FleetSpec) Validate() error {
	var problems []string
	if s.ShipType == "" {
		problems = append(problems, "ship_type required")
	}
	if s.Crew == "" {
		problems = append(problems, "crew required")
	}
	if s.Captain == "" {
		problems = append(problems, "captain required")
	}
	if s.MinSize < 0 || s.MaxSize < 1 || s.MinSize > s.MaxSize {
		problems = append(problems, fmt.Sprintf("invalid size range %d..%d", s.MinSize, s.MaxSize))
	}
	if len(s.Gangways) == 0 {
		problems = append(problems, "at least one gangway required")
	}
	for i, g := range s.Gangways {
		if g.PierEnd.Type == "" || g.ShipEnd.Type == "" || g.PierEnd.Number <= 0 || g.ShipEnd.Number <= 0 {
			problems = append(problems, fmt.Sprintf("gangway %d incomplete", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
