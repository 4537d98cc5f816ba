package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"gopper-endstops/protocol"
)

// Dictionary represents the parsed MCU data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]any `json:"enumerations,omitempty"`

	messages  map[string]*message
	responses map[uint16]*message
}

// message is a dictionary entry resolved to its id and parsed format
type message struct {
	id     uint16
	format *protocol.MessageFormat
}

// ParseDictionary decodes dictionary data as sent by identify, decompressing
// it first when it is zlib compressed
func ParseDictionary(data []byte) (*Dictionary, error) {
	if isZlib(data) {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed dictionary: %w", err)
		}
		defer r.Close()

		inflated, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
		}
		data = inflated
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if err := dict.index(); err != nil {
		return nil, err
	}
	return dict, nil
}

// isZlib checks for a zlib header: CM=8 and a valid FCHECK
func isZlib(data []byte) bool {
	if len(data) < 2 || data[0]&0x0F != 8 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

func (d *Dictionary) index() error {
	d.messages = make(map[string]*message)
	d.responses = make(map[uint16]*message)

	add := func(format string, id int, isResponse bool) error {
		mf, err := protocol.ParseMessageFormat(format)
		if err != nil {
			return fmt.Errorf("dictionary entry %q: %w", format, err)
		}
		msg := &message{id: uint16(id), format: mf}
		d.messages[mf.Name] = msg
		if isResponse {
			d.responses[msg.id] = msg
		}
		return nil
	}

	for format, id := range d.Commands {
		if err := add(format, id, false); err != nil {
			return err
		}
	}
	for format, id := range d.Responses {
		if err := add(format, id, true); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the message with the given name
func (d *Dictionary) lookup(name string) (*message, error) {
	msg, ok := d.messages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return msg, nil
}

// ResponseName returns the name of the response with the given id
func (d *Dictionary) ResponseName(id uint16) (string, bool) {
	msg, ok := d.responses[id]
	if !ok {
		return "", false
	}
	return msg.format.Name, true
}

// ClockFreq returns the CLOCK_FREQ constant advertised by the MCU
func (d *Dictionary) ClockFreq() (float64, error) {
	v, ok := d.Config["CLOCK_FREQ"]
	if !ok {
		return 0, errors.New("dictionary has no CLOCK_FREQ")
	}

	var freq float64
	switch n := v.(type) {
	case float64:
		freq = n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("bad CLOCK_FREQ %q: %w", n, err)
		}
		freq = f
	default:
		return 0, fmt.Errorf("bad CLOCK_FREQ type %T", v)
	}
	if freq <= 0 {
		return 0, fmt.Errorf("bad CLOCK_FREQ %v", freq)
	}
	return freq, nil
}

// Summary renders a short human-readable description of the dictionary
func (d *Dictionary) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Version: %s\n", d.Version)
	fmt.Fprintf(&b, "Build: %s\n", d.BuildVersions)

	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Config:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %v\n", k, d.Config[k])
	}

	fmt.Fprintf(&b, "Commands: %d\n", len(d.Commands))
	fmt.Fprintf(&b, "Responses: %d\n", len(d.Responses))
	if len(d.Enumerations) > 0 {
		fmt.Fprintf(&b, "Enumerations: %d\n", len(d.Enumerations))
	}
	return b.String()
}
