package cue

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a03")

// Plugin wires the CUE-sheet track-splitting adapter into the
// plugin.Plugin ABI.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "cue", Version: "1.0.0", Description: "splits a CUE sheet's backing image into per-track virtual files"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	return strings.HasSuffix(strings.ToLower(init.Path), ".cue")
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	mode := ParseExtractMode(init.Options["extractToMemory"])
	return Parse(init.Path, mode)
}
