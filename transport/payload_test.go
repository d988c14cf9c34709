package transport

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"testing/quick"
)

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		scalar  bool
		size    int
	}{
		{"uint16 zero", Uint16(0), true, 2},
		{"uint16 max", Uint16(math.MaxUint16), true, 2},
		{"uint32 max", Uint32(math.MaxUint32), true, 4},
		{"float32 negative", Float32(-1.25), true, 4},
		{"float32 max", Float32(math.MaxFloat32), true, 4},
		{"float64 negative", Float64(-123456.789), true, 8},
		{"float64 smallest", Float64(math.SmallestNonzeroFloat64), true, 8},
		{"float32 array", Float32s{0, -1, 3.5, math.MaxFloat32}, false, 16},
		{"float64 array", Float64s{0, -2.5, math.MaxFloat64}, false, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(b) != tt.size {
				t.Fatalf("encoded %d bytes, want %d", len(b), tt.size)
			}
			got, err := Decode(tt.payload.Kind(), b, tt.scalar)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.payload) {
				t.Fatalf("round trip = %#v, want %#v", got, tt.payload)
			}
		})
	}
}

func TestEncodeNilPayload(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("Encode(nil) error = %v, want ErrUnsupportedType", err)
	}
}

func TestPropertyFloat64sRoundTrip(t *testing.T) {
	f := func(v []float64) bool {
		b, err := Encode(Float64s(v))
		if err != nil {
			return false
		}
		got, err := Decode(TypeFloat64, b, false)
		if err != nil {
			return false
		}
		out := got.(Float64s)
		if len(out) != len(v) {
			return false
		}
		for i := range v {
			if math.Float64bits(out[i]) != math.Float64bits(v[i]) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestPropertyUint32RoundTrip(t *testing.T) {
	f := func(v uint32) bool {
		b, _ := Encode(Uint32(v))
		got, err := Decode(TypeUint32, b, true)
		return err == nil && got == Uint32(v)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestParseLsof(t *testing.T) {
	out := []byte(`COMMAND   PID USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
pglink     100 lab    3u  unix 0x0000000000000001      0t0      /tmp/pgl.sock
python3    777 lab    4u  unix 0x0000000000000003      0t0      /tmp/pgl.sock
mglMetal  4242 lab    5u  unix 0x0000000000000002      0t0      /tmp/pgl.sock
mglRender 5151 lab    6u  unix 0x0000000000000004      0t0      /tmp/pgl.sock
`)
	tests := []struct {
		name    string
		command string
		want    int
		ok      bool
	}{
		{"host by name", "mglMetal", 4242, true},
		{"any other process", "", 777, true},
		{"truncated column", "mglRenderHost", 5151, true},
		{"short prefix is not a match", "mglMetalHost", 0, false},
		{"self is never chosen", "pglink", 0, false},
		{"absent", "mglOther", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := parseLsof(out, 100, tt.command)
			if (err == nil) != tt.ok || pid != tt.want {
				t.Fatalf("parseLsof(%q) = %d, %v; want %d", tt.command, pid, err, tt.want)
			}
		})
	}

	if _, err := parseLsof([]byte("COMMAND PID\n"), 1, ""); err == nil {
		t.Fatal("expected error for output with no processes")
	}
}
