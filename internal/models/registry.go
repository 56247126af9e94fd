// Package models manages GGML model files for Whisper backends: resolving
// names to files on disk, listing installed models, and downloading known
// releases from Hugging Face.
package models

import (
	"strings"
)

// downloadBaseURL hosts the ggerganov/whisper.cpp GGML conversions.
const downloadBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// Spec describes one known Whisper model release.
type Spec struct {
	// ID is the canonical model identifier (e.g. "base", "large-v3")
	ID string `json:"id"`

	// File is the GGML file name (e.g. "ggml-base.bin")
	File string `json:"file"`

	// SizeMB is the approximate download size, for display
	SizeMB int `json:"size_mb"`

	// Description summarizes the speed/accuracy tradeoff
	Description string `json:"description"`
}

// registry lists the published whisper.cpp model conversions, smallest first.
var registry = []Spec{
	{ID: "tiny", File: "ggml-tiny.bin", SizeMB: 75, Description: "Fastest, lowest accuracy, multilingual"},
	{ID: "tiny.en", File: "ggml-tiny.en.bin", SizeMB: 75, Description: "Fastest, lowest accuracy, English only"},
	{ID: "base", File: "ggml-base.bin", SizeMB: 142, Description: "Fast with reasonable accuracy, multilingual"},
	{ID: "base.en", File: "ggml-base.en.bin", SizeMB: 142, Description: "Fast with reasonable accuracy, English only"},
	{ID: "small", File: "ggml-small.bin", SizeMB: 466, Description: "Balanced speed and accuracy, multilingual"},
	{ID: "small.en", File: "ggml-small.en.bin", SizeMB: 466, Description: "Balanced speed and accuracy, English only"},
	{ID: "medium", File: "ggml-medium.bin", SizeMB: 1500, Description: "High accuracy, slower, multilingual"},
	{ID: "medium.en", File: "ggml-medium.en.bin", SizeMB: 1500, Description: "High accuracy, slower, English only"},
	{ID: "large-v1", File: "ggml-large-v1.bin", SizeMB: 2900, Description: "Highest accuracy, first large release"},
	{ID: "large-v2", File: "ggml-large-v2.bin", SizeMB: 2900, Description: "Highest accuracy, improved large release"},
	{ID: "large-v3", File: "ggml-large-v3.bin", SizeMB: 2900, Description: "Highest accuracy, latest large release"},
	{ID: "large-v3-turbo", File: "ggml-large-v3-turbo.bin", SizeMB: 1600, Description: "Near large-v3 accuracy at much higher speed"},
}

// Normalize canonicalizes a model name: "Base", "ggml-base" and
// "ggml-base.bin" all become "base".
func Normalize(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.TrimSuffix(id, ".bin")
	id = strings.TrimPrefix(id, "ggml-")
	return id
}

// FileName returns the GGML file name for a model name in any accepted form.
func FileName(name string) string {
	return "ggml-" + Normalize(name) + ".bin"
}

// Lookup returns the registry entry for a model name in any accepted form.
func Lookup(name string) (Spec, bool) {
	id := Normalize(name)
	for _, spec := range registry {
		if spec.ID == id {
			return spec, true
		}
	}
	return Spec{}, false
}

// IsKnown reports whether the name resolves to a published model.
func IsKnown(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Known returns all published models, smallest first.
func Known() []Spec {
	out := make([]Spec, len(registry))
	copy(out, registry)
	return out
}
