package archive

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a02")

// Plugin wires the archive adapter (ZIP/TAR/TAR.GZ) into the plugin.Plugin
// ABI.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "archive", Version: "1.0.0", Description: "read-only view of a ZIP/TAR/TAR.GZ archive"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	lower := strings.ToLower(init.Path)
	return strings.HasSuffix(lower, ".zip") || strings.HasSuffix(lower, ".tar") ||
		strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	return Open(init.Path)
}
