package local

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a01")

// Plugin wires the local filesystem adapter into the plugin.Plugin ABI.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "local", Version: "1.0.0", Description: "real directory on local disk"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	return init.Path != ""
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	writable := true
	if v, ok := init.Options["writable"]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			writable = parsed
		}
	}
	return New(init.Path, writable)
}
