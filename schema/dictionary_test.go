package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samaelod/pglink/types"
)

const sampleHeader = `// generated by the host build
#include <stdint.h>

typedef enum mglCommandCode {
    // housekeeping
    mglPing = 0,
    mglFlush = 1,
    mglStartBatch = 30,
    mglProcessBatch = 31,
    mglFinishBatch = 32,

    mglUnknownCommand = UINT16_MAX
} mglCommandCode;

typedef enum other {
    notParsed = 7,
} other;
`

func TestParseMinimal(t *testing.T) {
	d, err := Parse("typedef enum mglCommandCode {\n mglPing = 0,\n mglFlush = 1,\n} mglCommandCode;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}
	for name, want := range map[string]uint16{"mglPing": 0, "mglFlush": 1} {
		got, ok := d.Code(name)
		if !ok || got != want {
			t.Errorf("Code(%s) = %d,%v want %d", name, got, ok, want)
		}
	}
}

func TestParseHeader(t *testing.T) {
	d, err := Parse(sampleHeader)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Len() != 6 {
		t.Fatalf("Len = %d, want 6 (names %v)", d.Len(), d.Names())
	}
	if c, _ := d.Code("mglUnknownCommand"); c != types.SentinelCode {
		t.Fatalf("sentinel code = %#x", c)
	}
	if _, ok := d.Code("notParsed"); ok {
		t.Fatal("entries after the first enum must not be parsed")
	}
	cmds := d.Commands()
	if cmds[0].Name != "mglPing" || cmds[len(cmds)-1].Name != "mglUnknownCommand" {
		t.Fatalf("Commands not ordered by code: %v", cmds)
	}
}

func TestDictionaryBijection(t *testing.T) {
	d, err := Parse(sampleHeader)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, name := range d.Names() {
		code, _ := d.Code(name)
		back, ok := d.Name(code)
		if !ok || back != name {
			t.Fatalf("Name(Code(%s)) = %q", name, back)
		}
		again, _ := d.Code(back)
		if again != code {
			t.Fatalf("Code(Name(Code(%s))) = %d, want %d", name, again, code)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"no enum", "#define X 1\n", ErrNoEnum},
		{"unterminated", "typedef enum a {\n x = 1,\n", ErrNoEnum},
		{"empty", "typedef enum a {\n} a;\n", ErrNoEnum},
		{"duplicate code", "typedef enum a {\n x = 1,\n y = 1,\n} a;\n", ErrDuplicateCode},
		{"duplicate name", "typedef enum a {\n x = 1,\n x = 2,\n} a;\n", ErrDuplicateName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Parse("typedef enum a {\n x = 70000,\n} a;\n"); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mglCommandTypes.h")
	if err := os.WriteFile(path, []byte(sampleHeader), 0600); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n, _ := d.Name(1); n != "mglFlush" {
		t.Fatalf("Name(1) = %q", n)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.h")); err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}

func TestNilDictionary(t *testing.T) {
	var d *Dictionary
	if _, ok := d.Code("mglFlush"); ok {
		t.Fatal("nil dictionary resolved a name")
	}
	if d.NameOr(3) != "<unknown 3>" {
		t.Fatalf("NameOr = %q", d.NameOr(3))
	}
}
