package core

import (
	"bytes"
	"sort"
	"strconv"
	"sync"

	"piospi/protocol"
	"piospi/tinycompress"
)

// Dictionary is the data dictionary the host downloads with identify: the
// command and response formats with their ids, firmware constants and
// enumerations, as zlib-wrapped JSON.
type Dictionary struct {
	mu            sync.RWMutex
	registry      *CommandRegistry
	constants     map[string]string
	enumerations  map[string][]string
	version       string
	buildVersions string
	cached        []byte
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(registry *CommandRegistry) *Dictionary {
	return &Dictionary{
		registry:      registry,
		constants:     make(map[string]string),
		enumerations:  make(map[string][]string),
		version:       "piospi-" + protocol.Version,
		buildVersions: "go-tinygo",
	}
}

// GetGlobalDictionary returns the dictionary served by identify
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

// RegisterConstant adds a constant to the firmware dictionary
func RegisterConstant(name string, value any) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration adds an enumeration to the firmware dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant stores value as a string. Integers of any width and strings
// are supported; other types are stored empty.
func (d *Dictionary) AddConstant(name string, value any) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case int32:
		s = strconv.FormatInt(int64(v), 10)
	case int64:
		s = strconv.FormatInt(v, 10)
	case uint:
		s = strconv.FormatUint(uint64(v), 10)
	case uint8:
		s = strconv.FormatUint(uint64(v), 10)
	case uint32:
		s = strconv.FormatUint(uint64(v), 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	}
	d.mu.Lock()
	d.constants[name] = s
	d.cached = nil
	d.mu.Unlock()
}

// AddEnumeration stores values by index; empty names are skipped
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached = nil
	d.mu.Unlock()
}

// EnumerationLen returns the number of values registered under name
func (d *Dictionary) EnumerationLen(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.enumerations[name])
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	d.version = version
	d.cached = nil
	d.mu.Unlock()
}

// BuildDictionary compresses and caches the dictionary. Call it once every
// command is registered; identify serves the cached copy.
func (d *Dictionary) BuildDictionary() {
	commands, responses := d.registry.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	raw := d.appendJSON(make([]byte, 0, 1024), commands, responses)
	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf, len(raw))
	w.Write(raw)
	if err := w.Close(); err != nil {
		DebugPrintln("[DICT] compression failed: " + err.Error())
		d.cached = raw
		return
	}
	d.cached = buf.Bytes()
	DebugPrintln("[DICT] " + strconv.Itoa(len(raw)) + " bytes, " + strconv.Itoa(len(d.cached)) + " wrapped")
}

// Generate returns the cached dictionary, building it on first use
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached == nil {
		d.BuildDictionary()
		d.mu.RLock()
		cached = d.cached
		d.mu.RUnlock()
	}
	return cached
}

// JSON returns the uncompressed dictionary
func (d *Dictionary) JSON() []byte {
	commands, responses := d.registry.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.appendJSON(nil, commands, responses)
}

// GetChunk returns a copy of up to count bytes at offset. Past the end it
// returns an empty chunk, which ends the host's download.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	return append([]byte(nil), data[offset:end]...)
}

// appendJSON writes the dictionary with keys in a stable order. The caller
// holds d.mu.
func (d *Dictionary) appendJSON(b []byte, commands, responses map[string]int) []byte {
	b = append(b, `{"version":`...)
	b = strconv.AppendQuote(b, d.version)
	b = append(b, `,"build_versions":`...)
	b = strconv.AppendQuote(b, d.buildVersions)

	b = append(b, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendQuote(b, name)
		b = append(b, ':')
		b = strconv.AppendQuote(b, d.constants[name])
	}
	b = append(b, `},"commands":`...)
	b = appendIDMap(b, commands)
	b = append(b, `,"responses":`...)
	b = appendIDMap(b, responses)

	if len(d.enumerations) > 0 {
		b = append(b, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				b = append(b, ',')
			}
			b = strconv.AppendQuote(b, name)
			b = append(b, ":{"...)
			first := true
			for idx, value := range d.enumerations[name] {
				if value == "" {
					continue
				}
				if !first {
					b = append(b, ',')
				}
				first = false
				b = strconv.AppendQuote(b, value)
				b = append(b, ':')
				b = strconv.AppendInt(b, int64(idx), 10)
			}
			b = append(b, '}')
		}
		b = append(b, '}')
	}
	return append(b, '}')
}

// appendIDMap writes a message:id object ordered by id
func appendIDMap(b []byte, m map[string]int) []byte {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return m[names[i]] < m[names[j]] })
	b = append(b, '{')
	for i, name := range names {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendQuote(b, name)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(m[name]), 10)
	}
	return append(b, '}')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
