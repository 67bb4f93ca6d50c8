// Package s3 implements a read-only source.Mount over an S3-compatible
// bucket, grounded on the teacher's mount/backend/s3 S3Backend. Objects
// are listed non-recursively per directory level so that minio-go's
// pseudo-directory common-prefix entries (keys ending in "/") become
// this adapter's synthetic directories.
package s3

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// Config mirrors the teacher's NewS3Backend parameters.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// Source is a read-only view of one bucket (optionally scoped under a
// key prefix).
type Source struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to endpoint and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*Source, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, vfserrors.NotExists("s3.New", cfg.Bucket)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Source{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *Source) Name() string   { return "s3" }
func (s *Source) Writable() bool { return false }

func (s *Source) key(real string) string {
	return s.prefix + strings.TrimPrefix(vpath.Clean(real), "/")
}

func (s *Source) dirPrefix(real string) string {
	k := s.key(real)
	if k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func toInfo(obj minio.ObjectInfo) *source.Info {
	name := vpath.Base(strings.TrimSuffix(obj.Key, "/"))
	if strings.HasSuffix(obj.Key, "/") {
		return &source.Info{Name: name, Type: source.TypeDirectory, Mode: source.ModeDir | 0555}
	}
	return &source.Info{Name: name, Type: source.TypeFile, Size: obj.Size, Mode: 0444, ModTime: obj.LastModified}
}

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	clean := vpath.Clean(real)
	if clean == "" {
		return &source.Info{Name: "", Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
	}

	obj, err := s.client.StatObject(ctx, s.bucket, s.key(real), minio.StatObjectOptions{})
	if err == nil {
		return toInfo(obj), nil
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" && resp.Code != "NotFound" {
		return nil, vfserrors.PluginError("getfileinfo", real, err)
	}

	// Not a plain object; check whether it exists as a pseudo-directory by
	// listing its parent for a matching common prefix.
	base := vpath.Base(clean)
	found := false
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.dirPrefix(vpath.Dir(clean)), Recursive: false}) {
		if obj.Err != nil {
			return nil, vfserrors.PluginError("getfileinfo", real, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") && vpath.Base(strings.TrimSuffix(obj.Key, "/")) == base {
			found = true
			break
		}
	}
	if !found {
		return nil, vfserrors.NotExists("getfileinfo", real)
	}
	return &source.Info{Name: base, Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.dirPrefix(real), Recursive: false}) {
		if obj.Err != nil {
			return vfserrors.PluginError("listfiles", real, obj.Err)
		}
		if obj.Key == s.dirPrefix(real) {
			continue
		}
		if !fn(toInfo(obj)) {
			break
		}
	}
	return nil
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(real), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, vfserrors.PluginError("open", real, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, nil, vfserrors.NotExists("open", real)
	}
	return obj, toInfo(stat), nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error {
	return h.(*minio.Object).Close()
}

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return h.(*minio.Object).ReadAt(buf, offset)
}

func (s *Source) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return 0, vfserrors.AccessDenied("write", "")
}

func (s *Source) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return vfserrors.AccessDenied("settimes", real)
}

func (s *Source) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("setattrs", real)
}

func (s *Source) SetSize(ctx context.Context, real string, size int64) error {
	return vfserrors.AccessDenied("setsize", real)
}

func (s *Source) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createfile", real)
}

func (s *Source) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createdir", real)
}

func (s *Source) Delete(ctx context.Context, real string, recursive bool) error {
	return vfserrors.AccessDenied("delete", real)
}

func (s *Source) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(real), minio.GetObjectOptions{})
	if err != nil {
		return nil, vfserrors.PluginError("exportstart", real, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return obj, nil
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	n, err := p.(*minio.Object).Read(buf)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, vfserrors.PluginError("exportdata", "", err)
	}
	return n, nil
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return p.(*minio.Object).Close()
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "s3", FileSystemName: "s3", MaxComponentLen: 1024}, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}
