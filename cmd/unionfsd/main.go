// Command unionfsd loads a JSON mount manifest, resolves each configured
// mount's source stack through the plugin registry, and starts every
// mount in registry.Registry. Parsing the manifest format itself lives
// here rather than in package config, which explicitly stays out of the
// file-format business — grounded on the teacher's cli/main.go, which
// likewise builds up mounts imperatively in its own main rather than
// inside the vfs package.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwantia/unionfs/config"
	"github.com/mwantia/unionfs/log"
	"github.com/mwantia/unionfs/metadata"
	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/registry"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/sources/archive"
	"github.com/mwantia/unionfs/sources/consulkv"
	"github.com/mwantia/unionfs/sources/cue"
	"github.com/mwantia/unionfs/sources/local"
	"github.com/mwantia/unionfs/sources/s3"
	"github.com/mwantia/unionfs/sources/sqltable"
)

// manifestSource mirrors config.SourceRef for JSON decoding.
type manifestSource struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`
	Options map[string]string `json:"options"`
}

// manifestMount mirrors config.Options for JSON decoding.
type manifestMount struct {
	MountPoint       string           `json:"mountPoint"`
	Metadata         string           `json:"metadata"`
	Writable         *bool            `json:"writable"`
	DeferCopyEnabled bool             `json:"deferCopyEnabled"`
	CaseSensitive    *bool            `json:"caseSensitive"`
	Sources          []manifestSource `json:"sources"`
}

type manifest struct {
	Mounts []manifestMount `json:"mounts"`
}

func registerPlugins(reg *plugin.Registry) error {
	for _, p := range []plugin.Plugin{
		local.Plugin{},
		archive.Plugin{},
		cue.Plugin{},
		consulkv.Plugin{},
		s3.Plugin{},
		sqltable.Plugin{},
	} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func buildSources(ctx context.Context, plugins *plugin.Registry, refs []manifestSource) ([]source.Mount, error) {
	mounts := make([]source.Mount, 0, len(refs))
	for _, ref := range refs {
		p, ok := plugins.FindByName(ref.Name)
		if !ok {
			return nil, fmt.Errorf("unionfsd: no plugin registered for source %q", ref.Name)
		}
		init := plugin.MountInitInfo{Path: ref.Path, Options: ref.Options}
		if !p.IsSupported(init) {
			return nil, fmt.Errorf("unionfsd: plugin %q rejects source %+v", ref.Name, ref)
		}
		m, err := p.Mount(ctx, init)
		if err != nil {
			return nil, fmt.Errorf("unionfsd: mounting source %q: %w", ref.Name, err)
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func main() {
	manifestPath := flag.String("config", "unionfs.json", "path to the mount manifest")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "optional log file path (rotated via lumberjack)")
	flag.Parse()

	logger := log.NewLogger("unionfsd", log.Parse(*logLevel), *logFile, false)

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		logger.Fatal("reading manifest %q: %v", *manifestPath, err)
	}

	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		logger.Fatal("parsing manifest %q: %v", *manifestPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	if err := registerPlugins(reg.Plugins()); err != nil {
		logger.Fatal("registering plugins: %v", err)
	}
	if err := reg.Init(); err != nil {
		logger.Fatal("initializing registry: %v", err)
	}

	for _, mm := range man.Mounts {
		sourceRefs := make([]config.SourceRef, len(mm.Sources))
		for i, s := range mm.Sources {
			sourceRefs[i] = config.SourceRef{Name: s.Name, Path: s.Path, Options: s.Options}
		}

		cfg := config.New(mm.MountPoint, sourceRefs,
			config.WithMetadataFile(orDefault(mm.Metadata, ".unionfs-metadata")),
			config.WithWritable(boolOr(mm.Writable, true)),
			config.WithDeferCopyEnabled(mm.DeferCopyEnabled),
			config.WithCaseSensitive(boolOr(mm.CaseSensitive, true)),
		)
		if err := cfg.Validate(); err != nil {
			logger.Fatal("mount %q: %v", mm.MountPoint, err)
		}

		mounts, err := buildSources(ctx, reg.Plugins(), mm.Sources)
		if err != nil {
			logger.Fatal("mount %q: %v", mm.MountPoint, err)
		}

		metaBackend, ok := mounts[0].(metadata.Backend)
		if !ok {
			logger.Fatal("mount %q: rank-0 source %q does not implement metadata.Backend", mm.MountPoint, mounts[0].Name())
		}

		id, err := reg.Add(ctx, cfg, mounts, metaBackend)
		if err != nil {
			logger.Fatal("starting mount %q: %v", mm.MountPoint, err)
		}
		logger.Info("mounted %q as %s with %d source(s)", mm.MountPoint, id, len(mounts))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := reg.Uninit(context.Background()); err != nil {
		logger.VFSError(log.Error, "uninit", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
