// Package catalog is the fixed table of symbolic characteristic names exposed by the
// gateway and their protocol-level UUIDs.
package catalog

import (
	"github.com/srg/ecogate/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Symbolic names
const (
	ResetIdentity    = "reset-identity"
	LEDBrightness    = "led-brightness"
	ForceControl     = "force-control"
	HeatingMode      = "heating-mode"
	FloorLimits      = "floor-limits"
	MonitoringData   = "monitoring-data"
	TemperatureMode  = "temperature-mode"
	ManufacturerName = "manufacturer-name"
)

// Entry is one row of the table
type Entry struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

var table = newTable(
	Entry{ResetIdentity, "f366dddb-ebe2-43ee-83c0-472ded74c8fa"},
	Entry{LEDBrightness, "0bee30ff-ed95-4747-bf1b-01a60f5ff4fc"},
	Entry{ForceControl, "7bd74f74-ffae-452e-bb61-b59b2faf96c9"},
	Entry{HeatingMode, "4eb1d6a2-19e0-4809-ba55-4a94e7d9b763"},
	Entry{FloorLimits, "89b4c78f-6d5e-4cfa-8e81-4eca9738bbfd"},
	Entry{MonitoringData, "ecc794d2-c790-4abd-88a5-79abf9417908"},
	Entry{TemperatureMode, "66ad3e6b-3135-4ada-bb2b-8b22916b21d4"},
	Entry{ManufacturerName, "2a29"}, // Device Information: Manufacturer Name String
)

func newTable(entries ...Entry) *orderedmap.OrderedMap[string, string] {
	m := orderedmap.New[string, string](len(entries))
	for _, e := range entries {
		m.Set(e.Name, device.NormalizeUUID(e.UUID))
	}
	return m
}

// Resolve maps a symbolic name to its normalized UUID.
// Names are matched exactly; unknown names are never passed through.
func Resolve(name string) (string, bool) {
	return table.Get(name)
}

// Entries returns the table in declaration order
func Entries() []Entry {
	entries := make([]Entry, 0, table.Len())
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, Entry{Name: pair.Key, UUID: pair.Value})
	}
	return entries
}

// Names returns the symbolic names in declaration order
func Names() []string {
	names := make([]string, 0, table.Len())
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}
