package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/types"
)

// SaveToRecent saves a recording to a new file in the recordings directory.
// It uses the original filename as a base and appends an incrementing number.
// A nil rec copies originalPath, which must be a Lua recording.
// Returns the path to the newly created file.
func SaveToRecent(rec *types.Recording, originalPath string) (string, error) {
	appConfig, err := config.LoadDefault()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return SaveToDir(rec, originalPath, appConfig.RecordingsDir)
}

// SaveToDir is SaveToRecent with an explicit directory.
func SaveToDir(rec *types.Recording, originalPath, dir string) (string, error) {
	if dir == "" {
		dir = "recordings"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	if rec == nil && !strings.HasSuffix(originalPath, ".lua") {
		return "", fmt.Errorf("nothing to save for %s", originalPath)
	}

	baseName := filepath.Base(originalPath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := strings.TrimSuffix(baseName, ext)
	if nameWithoutExt == "" || nameWithoutExt == "." {
		nameWithoutExt = "recording"
	}

	// pattern: name_1.lua, name_2.lua, etc.
	// If original was "foo.pcapng", we want "foo_1.lua"
	counter := 1
	var newPath string
	for {
		newFilename := fmt.Sprintf("%s_%d.lua", nameWithoutExt, counter)
		newPath = filepath.Join(dir, newFilename)

		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break // Found a free name
		}
		counter++
	}

	f, err := os.Create(newPath)
	if err != nil {
		return "", fmt.Errorf("failed to create recording file: %w", err)
	}
	defer f.Close()

	if rec == nil {
		// No converted log: copy the Lua source to keep its comments
		src, err := os.Open(originalPath)
		if err != nil {
			return "", fmt.Errorf("failed to open source lua file: %w", err)
		}
		defer src.Close()

		if _, err := io.Copy(f, src); err != nil {
			return "", fmt.Errorf("failed to copy lua content: %w", err)
		}
	} else {
		if err := WriteRecording(f, rec); err != nil {
			return "", fmt.Errorf("failed to write recording to lua: %w", err)
		}
	}

	return newPath, nil
}
