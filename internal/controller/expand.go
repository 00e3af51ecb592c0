package controller

import (
	"fmt"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// wordBits is the width of word-file elements; each bit is individually
// addressable as "file:element/bit".
const wordBits = 16

// member is one named sub-field of a structured file element.
type member struct {
	Name string
	Kind DataKind
}

// Sub-field layouts of the structured file types.
var (
	timerMembers = []member{
		{"PRE", KindInteger},
		{"ACC", KindInteger},
		{"EN", KindBool},
		{"TT", KindBool},
		{"DN", KindBool},
	}
	counterMembers = []member{
		{"PRE", KindInteger},
		{"ACC", KindInteger},
		{"CU", KindBool},
		{"CD", KindBool},
		{"DN", KindBool},
		{"OV", KindBool},
		{"UN", KindBool},
	}
	controlMembers = []member{
		{"LEN", KindInteger},
		{"POS", KindInteger},
		{"EN", KindBool},
		{"EU", KindBool},
		{"DN", KindBool},
		{"EM", KindBool},
		{"ER", KindBool},
		{"UL", KindBool},
		{"IN", KindBool},
		{"FD", KindBool},
	}
)

// membersFor returns the sub-field layout of a structured file type, or nil
// for word and float files.
func membersFor(code discovery.TypeCode) []member {
	switch code {
	case discovery.TypeTimer:
		return timerMembers
	case discovery.TypeCounter:
		return counterMembers
	case discovery.TypeControl:
		return controlMembers
	default:
		return nil
	}
}

// isWordType reports whether elements of the file type are 16-bit words
// with addressable bits.
func isWordType(code discovery.TypeCode) bool {
	switch code {
	case discovery.TypeOutput, discovery.TypeInput, discovery.TypeStatus,
		discovery.TypeBinary, discovery.TypeInteger:
		return true
	default:
		return false
	}
}

// Expand translates one discovered inventory entry into its individually
// addressable elements. It is pure and runs on demand, per entry: a scan
// only ever produces {file, type, count} triples, so the total discovery
// cost stays proportional to the file count rather than the element count.
//
// Word files (O, I, S, B, N) expand to one integer tag per element plus a
// boolean tag per bit. Float files expand to one float tag per element.
// Timer, counter and control files expand to their named word and bit
// sub-fields per element.
func Expand(entry discovery.Entry) []Tag {
	file := fmt.Sprintf("%s%d", entry.Type, entry.FileNumber)

	switch {
	case entry.Type == discovery.TypeFloat:
		tags := make([]Tag, 0, entry.ElementCount)
		for i := 0; i < entry.ElementCount; i++ {
			tags = append(tags, subElementTag(fmt.Sprintf("%s:%d", file, i), KindFloat, file))
		}
		return tags

	case isWordType(entry.Type):
		tags := make([]Tag, 0, entry.ElementCount*(wordBits+1))
		for i := 0; i < entry.ElementCount; i++ {
			element := fmt.Sprintf("%s:%d", file, i)
			tags = append(tags, subElementTag(element, KindInteger, file))
			for bit := 0; bit < wordBits; bit++ {
				tags = append(tags, subElementTag(fmt.Sprintf("%s/%d", element, bit), KindBool, element))
			}
		}
		return tags

	default:
		members := membersFor(entry.Type)
		tags := make([]Tag, 0, entry.ElementCount*len(members))
		for i := 0; i < entry.ElementCount; i++ {
			element := fmt.Sprintf("%s:%d", file, i)
			for _, m := range members {
				tags = append(tags, subElementTag(fmt.Sprintf("%s.%s", element, m.Name), m.Kind, element))
			}
		}
		return tags
	}
}

func subElementTag(name string, kind DataKind, parent string) Tag {
	return Tag{
		Class:     ClassFlatSubElement,
		Name:      name,
		Kind:      kind,
		Trendable: kind.Trendable(),
		Parent:    parent,
	}
}
