package consulkv

import (
	"context"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a04")

// Plugin wires the Consul KV adapter into the plugin.Plugin ABI. The
// mount "path" is unused (Consul has no filesystem path of its own);
// connection details arrive entirely through Options.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "consulkv", Version: "1.0.0", Description: "read-only view of a Consul KV prefix"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	_, ok := init.Options["address"]
	return ok
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	return New(Config{
		Address:    init.Options["address"],
		Token:      init.Options["token"],
		Datacenter: init.Options["datacenter"],
		Namespace:  init.Options["namespace"],
		Prefix:     init.Options["prefix"],
	})
}
