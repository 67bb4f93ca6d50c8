package s3

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a05")

// Plugin wires the S3-compatible bucket adapter into the plugin.Plugin
// ABI.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "s3", Version: "1.0.0", Description: "read-only view of an S3-compatible bucket"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	_, ok := init.Options["bucket"]
	return ok
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	useSSL, _ := strconv.ParseBool(init.Options["useSsl"])
	return New(ctx, Config{
		Endpoint:  init.Options["endpoint"],
		Bucket:    init.Options["bucket"],
		AccessKey: init.Options["accessKey"],
		SecretKey: init.Options["secretKey"],
		UseSSL:    useSSL,
		Prefix:    init.Options["prefix"],
	})
}
