package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed G-code line
type Command struct {
	// Name is the upper-cased command, e.g. "G28", "M119", "QUERY_ENDSTOPS"
	Name string
	// Params maps upper-cased parameter names to their raw values
	Params map[string]string
	// Raw is the line as received, without comment
	Raw     string
	Comment string
}

// Has reports whether the parameter was given, with or without a value
func (c *Command) Has(name string) bool {
	_, ok := c.Params[strings.ToUpper(name)]
	return ok
}

// Get returns a parameter value, or def if not present
func (c *Command) Get(name, def string) string {
	if v, ok := c.Params[strings.ToUpper(name)]; ok {
		return v
	}
	return def
}

// GetFloat returns a numeric parameter, or def if not present
func (c *Command) GetFloat(name string, def float64) (float64, error) {
	v, ok := c.Params[strings.ToUpper(name)]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse '%s' as a number for %s", v, strings.ToUpper(name))
	}
	return f, nil
}

// Parser splits G-code lines into commands.
// It understands classic words ("G1 X10 F3000"), extended commands
// ("QUERY_ENDSTOPS QUIET=1"), line numbers, checksums and ';' comments.
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line. Blank and comment-only lines return nil.
func (p *Parser) ParseLine(line string) (*Command, error) {
	comment := ""
	if i := strings.IndexByte(line, ';'); i >= 0 {
		comment = line[i:]
		line = line[:i]
	}
	// Checksum suffix
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}

	words := strings.Fields(line)
	if len(words) == 0 {
		return nil, nil
	}

	// Line number prefix
	if isClassicWord(words[0]) && toUpper(words[0][0]) == 'N' {
		words = words[1:]
		if len(words) == 0 {
			return nil, nil
		}
	}

	cmd := &Command{
		Params:  make(map[string]string),
		Raw:     strings.TrimSpace(line),
		Comment: comment,
	}

	if isClassicWord(words[0]) {
		cmd.Name = strings.ToUpper(words[0])
		for _, w := range words[1:] {
			p.parseClassicParam(cmd, w)
		}
		return cmd, nil
	}

	if !isLetter(words[0][0]) {
		return nil, fmt.Errorf("malformed command '%s'", strings.TrimSpace(line))
	}

	cmd.Name = strings.ToUpper(words[0])
	for _, w := range words[1:] {
		key, value, _ := strings.Cut(w, "=")
		if key == "" {
			return nil, fmt.Errorf("malformed parameter '%s' in '%s'", w, cmd.Raw)
		}
		cmd.Params[strings.ToUpper(key)] = value
	}
	return cmd, nil
}

// parseClassicParam handles "X10", plus "KEY=VALUE" and bare "FLAG" words
// that show up after classic commands
func (p *Parser) parseClassicParam(cmd *Command, w string) {
	if key, value, ok := strings.Cut(w, "="); ok && key != "" {
		cmd.Params[strings.ToUpper(key)] = value
		return
	}
	if !isLetter(w[0]) {
		return
	}
	if len(w) > 1 && allLetters(w) {
		cmd.Params[strings.ToUpper(w)] = ""
		return
	}
	cmd.Params[string(toUpper(w[0]))] = w[1:]
}

// isClassicWord checks for a letter followed by an integer, e.g. "G28", "m119"
func isClassicWord(w string) bool {
	if len(w) < 2 || !isLetter(w[0]) {
		return false
	}
	_, end := parseInt(w, 1)
	return end == len(w)
}

// parseInt parses an integer starting at pos and returns it with the
// position after the last digit. No digits returns pos unchanged.
func parseInt(s string, pos int) (int, int) {
	start := pos
	negative := false
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		negative = s[pos] == '-'
		pos++
	}

	digits := pos
	value := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}
	if pos == digits {
		return 0, start
	}

	if negative {
		value = -value
	}
	return value, pos
}

func allLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isLetter(s[i]) && s[i] != '_' {
			return false
		}
	}
	return true
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
