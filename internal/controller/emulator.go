package controller

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// emulatorProduct is the product name the emulator reports on handshake.
const emulatorProduct = "SAS Field Emulator"

// EmulatedFile seeds one flat data file in the emulator.
type EmulatedFile struct {
	Type   string
	Number int
	Count  int
}

// EmulatedTag seeds one directory row in the emulator.
type EmulatedTag struct {
	Name     string
	TypeName string
	IsStruct bool
}

// EmulatorSeed describes the address space an emulator serves.
type EmulatorSeed struct {
	Tags  []EmulatedTag
	Files []EmulatedFile
}

// Emulator is an in-memory transport serving a seeded address space. It
// implements both transport families: the endpoint handed to Open selects
// which surface answers. Values are deterministic waves derived from the
// address and the clock, so trends look alive without any hardware.
//
// The emulator backs tests and demo deployments; production installs attach
// a real wire driver instead.
type Emulator struct {
	mu    sync.Mutex
	open  bool
	ep    Endpoint
	tags  map[string]EmulatedTag
	order []string
	files map[discovery.TypeCode]map[int]int // type -> file number -> element count
}

// Compile-time checks: the emulator must serve both families.
var (
	_ DirectoryTransport = (*Emulator)(nil)
	_ FlatTransport      = (*Emulator)(nil)
)

// NewEmulator builds an emulator serving the seeded address space.
func NewEmulator(seed EmulatorSeed) *Emulator {
	e := &Emulator{
		tags:  make(map[string]EmulatedTag, len(seed.Tags)),
		files: make(map[discovery.TypeCode]map[int]int),
	}
	for _, tag := range seed.Tags {
		e.tags[tag.Name] = tag
		e.order = append(e.order, tag.Name)
	}
	for _, file := range seed.Files {
		code := discovery.TypeCode(strings.ToUpper(file.Type))
		if e.files[code] == nil {
			e.files[code] = make(map[int]int)
		}
		e.files[code][file.Number] = file.Count
	}
	return e
}

// Open records the endpoint and reports the emulated device identity.
func (e *Emulator) Open(_ context.Context, endpoint Endpoint) (DeviceInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	e.ep = endpoint
	return DeviceInfo{ProductName: emulatorProduct, Revision: "1.0"}, nil
}

// Close releases the emulated connection.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

// Read resolves each address against the seeded space; addresses that do
// not resolve yield absent readings.
func (e *Emulator) Read(_ context.Context, addresses []string) (map[string]Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil, fmt.Errorf("emulator: not open")
	}

	now := time.Now()
	result := make(map[string]Reading, len(addresses))
	for _, addr := range addresses {
		kind, ok := e.resolve(addr)
		if !ok {
			result[addr] = Gap()
			continue
		}
		result[addr] = Present(waveValue(addr, kind, now))
	}
	return result, nil
}

// resolve classifies an address against whichever family is seeded.
func (e *Emulator) resolve(addr string) (DataKind, bool) {
	if e.ep.Family == FamilyDirectory {
		tag, ok := e.tags[addr]
		if !ok || tag.IsStruct {
			return "", false
		}
		kind := KindForTypeName(tag.TypeName)
		if !kind.Trendable() {
			return "", false
		}
		return kind, true
	}

	parsed, err := parseFlatAddress(addr)
	if err != nil {
		return "", false
	}
	count, ok := e.files[parsed.code][parsed.file]
	if !ok || parsed.element >= count {
		return "", false
	}
	return parsed.kind()
}

// ListTags returns the seeded directory.
func (e *Emulator) ListTags(_ context.Context) ([]RawTag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil, fmt.Errorf("emulator: not open")
	}

	raw := make([]RawTag, 0, len(e.order))
	for _, name := range e.order {
		tag := e.tags[name]
		raw = append(raw, RawTag{
			Name:     tag.Name,
			TypeName: tag.TypeName,
			IsStruct: tag.IsStruct,
		})
	}
	return raw, nil
}

// Probe checks element existence against the seeded flat files.
func (e *Emulator) Probe(_ context.Context, code discovery.TypeCode, file, element int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return fmt.Errorf("emulator: not open")
	}

	count, ok := e.files[code][file]
	if !ok || element >= count {
		return fmt.Errorf("emulator: %s%d:%d absent", code, file, element)
	}
	return nil
}

// waveValue derives a deterministic per-address signal: a slow sine whose
// phase comes from the address hash, rounded for integer kinds and
// thresholded for booleans.
func waveValue(addr string, kind DataKind, now time.Time) float64 {
	h := fnv.New32a()
	h.Write([]byte(addr)) //nolint:errcheck // fnv never fails
	phase := float64(h.Sum32()%360) * math.Pi / 180
	t := float64(now.UnixMilli()) / 1000.0

	switch kind {
	case KindBool:
		if math.Sin(t/5+phase) > 0 {
			return 1
		}
		return 0
	case KindFloat:
		return 50 + 25*math.Sin(t/10+phase)
	default:
		return math.Round(50 + 25*math.Sin(t/10+phase))
	}
}

// flatAddr is a parsed flat-address reference.
type flatAddr struct {
	code    discovery.TypeCode
	file    int
	element int
	member  string // "" when not a structured sub-field
	bit     int    // -1 when not a bit reference
}

// kind classifies the parsed address, validating member and bit references
// against the file type.
func (a flatAddr) kind() (DataKind, bool) {
	switch {
	case a.member != "":
		for _, m := range membersFor(a.code) {
			if m.Name == a.member {
				return m.Kind, true
			}
		}
		return "", false
	case a.bit >= 0:
		if !isWordType(a.code) || a.bit >= wordBits {
			return "", false
		}
		return KindBool, true
	case a.code == discovery.TypeFloat:
		return KindFloat, true
	case isWordType(a.code):
		return KindInteger, true
	default:
		// Structured elements are only readable through their sub-fields.
		return "", false
	}
}

// parseFlatAddress parses "N7:3", "B3:1/5" and "T4:0.ACC" style references.
func parseFlatAddress(addr string) (flatAddr, error) {
	parsed := flatAddr{bit: -1}

	if len(addr) < 4 {
		return parsed, fmt.Errorf("address %q too short", addr)
	}
	parsed.code = discovery.TypeCode(addr[:1])

	colon := strings.IndexByte(addr, ':')
	if colon < 2 {
		return parsed, fmt.Errorf("address %q missing file:element separator", addr)
	}

	file, err := strconv.Atoi(addr[1:colon])
	if err != nil {
		return parsed, fmt.Errorf("address %q file number: %w", addr, err)
	}
	parsed.file = file

	rest := addr[colon+1:]
	switch {
	case strings.ContainsRune(rest, '.'):
		dot := strings.IndexByte(rest, '.')
		parsed.member = rest[dot+1:]
		rest = rest[:dot]
	case strings.ContainsRune(rest, '/'):
		slash := strings.IndexByte(rest, '/')
		bit, err := strconv.Atoi(rest[slash+1:])
		if err != nil {
			return parsed, fmt.Errorf("address %q bit: %w", addr, err)
		}
		parsed.bit = bit
		rest = rest[:slash]
	}

	element, err := strconv.Atoi(rest)
	if err != nil {
		return parsed, fmt.Errorf("address %q element: %w", addr, err)
	}
	parsed.element = element

	if parsed.member == "" && parsed.bit < 0 && parsed.element < 0 {
		return parsed, fmt.Errorf("address %q element out of range", addr)
	}
	return parsed, nil
}
