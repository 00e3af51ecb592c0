package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// ProtocolFamily identifies how a controller exposes its memory.
type ProtocolFamily string

const (
	// FamilyDirectory marks controllers with a queryable tag directory.
	FamilyDirectory ProtocolFamily = "directory"

	// FamilyFlatAddress marks controllers whose address space must be
	// reconstructed by probing.
	FamilyFlatAddress ProtocolFamily = "flat_address"
)

// Valid reports whether the family is one of the supported values.
func (f ProtocolFamily) Valid() bool {
	return f == FamilyDirectory || f == FamilyFlatAddress
}

// Endpoint addresses one physical controller. It is immutable once a
// connection has been established with it.
type Endpoint struct {
	// Address is the controller's network address (IP or hostname).
	Address string `json:"address" yaml:"address"`

	// Slot is the processor slot in the chassis. Only meaningful for
	// Directory-family controllers; flat-address processors ignore it.
	Slot int `json:"slot" yaml:"slot"`

	// Family selects the protocol family.
	Family ProtocolFamily `json:"family" yaml:"family"`
}

// Validate checks the endpoint fields.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidEndpoint)
	}
	if e.Slot < 0 {
		return fmt.Errorf("%w: slot must not be negative", ErrInvalidEndpoint)
	}
	if !e.Family.Valid() {
		return fmt.Errorf("%w: unknown protocol family %q", ErrInvalidEndpoint, e.Family)
	}
	return nil
}

// String renders the endpoint for logs and export metadata.
func (e Endpoint) String() string {
	if e.Family == FamilyDirectory {
		return fmt.Sprintf("%s/%d", e.Address, e.Slot)
	}
	return e.Address
}

// DataKind classifies the values a tag produces.
type DataKind string

const (
	KindBool      DataKind = "bool"
	KindInteger   DataKind = "integer"
	KindFloat     DataKind = "float"
	KindString    DataKind = "string"
	KindComposite DataKind = "composite"
)

// Trendable reports whether values of this kind are plottable scalars.
// Composite and string kinds are never trendable.
func (k DataKind) Trendable() bool {
	switch k {
	case KindBool, KindInteger, KindFloat:
		return true
	default:
		return false
	}
}

// kindForTypeName maps vendor directory type names to data kinds. Names
// absent from the map classify as KindString and are not trendable.
var kindForTypeName = map[string]DataKind{
	"BOOL":  KindBool,
	"SINT":  KindInteger,
	"INT":   KindInteger,
	"DINT":  KindInteger,
	"LINT":  KindInteger,
	"USINT": KindInteger,
	"UINT":  KindInteger,
	"UDINT": KindInteger,
	"REAL":  KindFloat,
	"LREAL": KindFloat,
	"BYTE":  KindInteger,
	"WORD":  KindInteger,
	"DWORD": KindInteger,
	"LWORD": KindInteger,
}

// KindForTypeName classifies a vendor type name from a tag directory.
func KindForTypeName(name string) DataKind {
	if kind, ok := kindForTypeName[strings.ToUpper(name)]; ok {
		return kind
	}
	return KindString
}

// TagClass discriminates the Tag variant.
type TagClass string

const (
	// ClassAtomic is a scalar directory tag.
	ClassAtomic TagClass = "atomic"

	// ClassComposite is a structured directory tag; not directly trendable.
	ClassComposite TagClass = "composite"

	// ClassFlatFile is one discovered data file on a flat-address controller.
	ClassFlatFile TagClass = "flat_file"

	// ClassFlatSubElement is an individually addressable member of a flat
	// file, produced by Expand.
	ClassFlatSubElement TagClass = "flat_sub_element"
)

// Tag describes one addressable item on a controller. Class selects which
// of the optional field groups is meaningful; code consuming tags switches
// on Class rather than sniffing field presence.
type Tag struct {
	Class     TagClass `json:"class"`
	Name      string   `json:"name"`
	Kind      DataKind `json:"kind"`
	Trendable bool     `json:"trendable"`

	// Composite tags only.
	TypeID      string `json:"type_id,omitempty"`
	ArrayLength int    `json:"array_length,omitempty"`

	// Flat-file tags only.
	FileNumber   int    `json:"file_number,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	ElementCount int    `json:"element_count,omitempty"`

	// Flat sub-element tags only: the element-level address this member
	// was expanded from, e.g. "T4:1" for "T4:1.ACC".
	Parent string `json:"parent,omitempty"`
}

// AtomicTag builds a scalar directory tag of the given kind.
func AtomicTag(name string, kind DataKind) Tag {
	return Tag{
		Class:     ClassAtomic,
		Name:      name,
		Kind:      kind,
		Trendable: kind.Trendable(),
	}
}

// CompositeTag builds a structured directory tag. Composite tags are kept
// in the directory for browsing but are never trendable themselves.
func CompositeTag(name, typeID string, arrayLength int) Tag {
	return Tag{
		Class:       ClassComposite,
		Name:        name,
		Kind:        KindComposite,
		TypeID:      typeID,
		ArrayLength: arrayLength,
	}
}

// FlatFileTag wraps a discovered inventory entry as a browsable tag.
func FlatFileTag(entry discovery.Entry) Tag {
	kind := kindForFileType(entry.Type)
	return Tag{
		Class:        ClassFlatFile,
		Name:         fmt.Sprintf("%s%d", entry.Type, entry.FileNumber),
		Kind:         kind,
		Trendable:    false, // files are containers; their elements trend
		FileNumber:   entry.FileNumber,
		FileType:     string(entry.Type),
		ElementCount: entry.ElementCount,
	}
}

// kindForFileType maps a flat file type code to the kind of its elements.
func kindForFileType(code discovery.TypeCode) DataKind {
	switch code {
	case discovery.TypeFloat:
		return KindFloat
	case discovery.TypeTimer, discovery.TypeCounter, discovery.TypeControl:
		return KindComposite
	default:
		return KindInteger
	}
}

// Reading is one tag's result at one sampling tick. Absent marks a value
// that could not be read, distinct from zero: the tag stays in the sample
// with an explicit gap.
type Reading struct {
	Value  float64
	Absent bool
}

// Present wraps a value in a Reading.
func Present(v float64) Reading {
	return Reading{Value: v}
}

// Gap returns an absent Reading.
func Gap() Reading {
	return Reading{Absent: true}
}

var jsonNull = []byte("null")

// MarshalJSON renders a Reading as a bare number, or null when absent.
// This is the value encoding used by the export document, the live
// WebSocket feed and the MQTT payloads.
func (r Reading) MarshalJSON() ([]byte, error) {
	if r.Absent {
		return jsonNull, nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts a number or null.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*r = Reading{Absent: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("reading must be a number or null: %w", err)
	}
	*r = Reading{Value: v}
	return nil
}

// Directory is the result of a Directory-family discovery query: the flat
// list of trendable controller-scope tags plus per-program groups.
type Directory struct {
	Tags          []Tag            `json:"tags"`
	ProgramGroups map[string][]Tag `json:"program_groups,omitempty"`
}

// Inventory is the result of a FlatAddress-family discovery scan.
type Inventory struct {
	Entries []discovery.Entry `json:"entries"`
}

// DiscoverResult carries whichever artifact the connected family produces.
type DiscoverResult struct {
	Directory *Directory `json:"directory,omitempty"`
	Inventory *Inventory `json:"inventory,omitempty"`
}
