package simulator

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

type dictionaryJSON struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

// buildDictionary renders the Klipper data dictionary and zlib compresses it,
// the form identify serves to the host
func (s *MCU) buildDictionary() ([]byte, error) {
	commands, responses := s.registry.commandsAndResponses()

	raw, err := json.Marshal(dictionaryJSON{
		Version:       s.version,
		BuildVersions: "gopper-endstops-sim",
		Config: map[string]string{
			"CLOCK_FREQ": strconv.FormatUint(uint64(s.clockFreq), 10),
			"MCU":        "simulator",
		},
		Commands:  commands,
		Responses: responses,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
