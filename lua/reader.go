package lua

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/pglink/types"
)

func ReadRecording(path string) (*types.Recording, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	// Lua file returns recording table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua file did not return a table")
	}

	var rec types.Recording

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &rec); err != nil {
		return nil, err
	}

	if err := ValidateRecording(&rec); err != nil {
		return nil, fmt.Errorf("invalid recording: %w", err)
	}

	return &rec, nil
}

// ValidateRecording checks that every command has a code in range and that
// its first chunk is that code as sent on the wire.
func ValidateRecording(rec *types.Recording) error {
	for i, c := range rec.Commands {
		if c.Code < 0 || c.Code > int(types.SentinelCode) {
			return fmt.Errorf("command %d: code %d out of range", i, c.Code)
		}
		if c.TDelta < 0 {
			return fmt.Errorf("command %d: negative t_delta %d", i, c.TDelta)
		}
		if len(c.Chunks) == 0 {
			continue
		}
		first, err := hex.DecodeString(c.Chunks[0])
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		if len(first) != 2 || binary.NativeEndian.Uint16(first) != uint16(c.Code) {
			return fmt.Errorf("command %d: first chunk %s does not encode code %d", i, c.Chunks[0], c.Code)
		}
		for j, s := range c.Chunks[1:] {
			if _, err := hex.DecodeString(s); err != nil {
				return fmt.Errorf("command %d chunk %d: %w", i, j+1, err)
			}
		}
	}
	return nil
}
