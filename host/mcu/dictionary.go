package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandIDs  map[string]uint16
	responseIDs map[string]uint16
}

// ParseDictionary inflates data if it is a zlib stream and decodes the JSON
func ParseDictionary(data []byte) (*Dictionary, error) {
	if len(data) >= 2 && data[0] == 0x78 {
		inflated, err := inflate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate dictionary: %w", err)
		}
		data = inflated
	}
	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	dict.commandIDs = indexByName(dict.Commands)
	dict.responseIDs = indexByName(dict.Responses)
	return dict, nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// indexByName keys messages ("name arg=%c ...") by their name
func indexByName(messages map[string]int) map[string]uint16 {
	ids := make(map[string]uint16, len(messages))
	for msg, id := range messages {
		name, _, _ := strings.Cut(msg, " ")
		ids[name] = uint16(id)
	}
	return ids
}

// CommandID returns the id of the command called name
func (d *Dictionary) CommandID(name string) (uint16, error) {
	id, ok := d.commandIDs[name]
	if !ok {
		return 0, fmt.Errorf("unknown command: %s", name)
	}
	return id, nil
}

// ResponseID returns the id of the response called name
func (d *Dictionary) ResponseID(name string) (uint16, error) {
	id, ok := d.responseIDs[name]
	if !ok {
		return 0, fmt.Errorf("unknown response: %s", name)
	}
	return id, nil
}

// Constant returns a numeric config constant such as PIO_SPI_MAX_WIDTH
func (d *Dictionary) Constant(name string) (int64, error) {
	v, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	return strconv.ParseInt(v, 10, 64)
}

// Pin resolves a pin name like "gpio2" through the pin enumeration
func (d *Dictionary) Pin(name string) (uint32, error) {
	pins, ok := d.Enumerations["pin"]
	if !ok {
		return 0, fmt.Errorf("dictionary has no pin enumeration")
	}
	n, ok := pins[name]
	if !ok {
		return 0, fmt.Errorf("unknown pin: %s", name)
	}
	return uint32(n), nil
}
