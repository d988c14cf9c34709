// Package schema reads the host's command enumeration and maps command names
// to the numeric codes sent on the wire.
package schema

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samaelod/pglink/types"
)

const sentinelName = "UINT16_MAX"

var (
	ErrNoEnum        = errors.New("no command enumeration found")
	ErrDuplicateCode = errors.New("duplicate command code")
	ErrDuplicateName = errors.New("duplicate command name")
)

var entryRegex = regexp.MustCompile(`^(\w+)\s*=\s*([0-9]+|` + sentinelName + `)`)

// Dictionary is the immutable two-way name/code mapping for one connection.
type Dictionary struct {
	byName map[string]uint16
	byCode map[uint16]string
}

// Load reads and parses the schema file at path.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command schema: %w", err)
	}
	d, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

// Parse extracts the entries of the first `typedef enum` block in text.
// Lines of the form `NAME = NUMBER,` or `NAME = UINT16_MAX,` become entries;
// anything else inside the block (comments, blank lines) is skipped.
func Parse(text string) (*Dictionary, error) {
	d := &Dictionary{
		byName: make(map[string]uint16),
		byCode: make(map[uint16]string),
	}

	inEnum := false
	closed := false
	sc := bufio.NewScanner(strings.NewReader(text))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())

		if !inEnum {
			if strings.HasPrefix(line, "typedef enum") {
				inEnum = true
			}
			continue
		}
		if strings.HasPrefix(line, "}") {
			closed = true
			break
		}

		m := entryRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, raw := m[1], m[2]

		code := types.SentinelCode
		if raw != sentinelName {
			v, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: value %s out of range", lineNo, name, raw)
			}
			code = uint16(v)
		}

		if _, ok := d.byName[name]; ok {
			return nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrDuplicateName, name)
		}
		if other, ok := d.byCode[code]; ok {
			return nil, fmt.Errorf("line %d: %w: %s and %s are both %d", lineNo, ErrDuplicateCode, other, name, code)
		}
		d.byName[name] = code
		d.byCode[code] = name
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if !inEnum || !closed {
		return nil, ErrNoEnum
	}
	if len(d.byName) == 0 {
		return nil, fmt.Errorf("%w: enumeration is empty", ErrNoEnum)
	}
	return d, nil
}

// Code returns the wire code for name.
func (d *Dictionary) Code(name string) (uint16, bool) {
	if d == nil {
		return 0, false
	}
	c, ok := d.byName[name]
	return c, ok
}

// Name returns the command name for a wire code.
func (d *Dictionary) Name(code uint16) (string, bool) {
	if d == nil {
		return "", false
	}
	n, ok := d.byCode[code]
	return n, ok
}

// NameOr returns the name for code, or a placeholder for unknown codes.
func (d *Dictionary) NameOr(code uint16) string {
	if n, ok := d.Name(code); ok {
		return n
	}
	return fmt.Sprintf("<unknown %d>", code)
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byName)
}

// Names returns all command names sorted alphabetically.
func (d *Dictionary) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.byName))
	for n := range d.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Commands returns all entries ordered by code.
func (d *Dictionary) Commands() []types.CommandCode {
	if d == nil {
		return nil
	}
	out := make([]types.CommandCode, 0, len(d.byName))
	for n, c := range d.byName {
		out = append(out, types.CommandCode{Name: n, Code: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
