// Package cue implements a read-only source.Mount that splits one
// backing audio image (referenced by a CUE sheet) into per-track virtual
// files, grounded on original_source/MFPSCue/CueSourceMount.cpp and
// FileSource.cpp/hpp.
//
// The original's extractToMemory option exhibits an aliasing bug —
// "false"/"never" parse to the same enum value as "true"/"always". This
// adapter's ExtractMode is a clean two-value enum with no such collision
// (spec.md §9 Open Question).
package cue

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// ExtractMode controls whether track content is read fully into memory
// at mount time (ExtractAlways) or streamed from the backing image file
// lazily on every Read/ExportData (ExtractNever, the default).
type ExtractMode int

const (
	ExtractNever ExtractMode = iota
	ExtractAlways
)

// ParseExtractMode parses the "extractToMemory" mount option after
// trimming spaces and lowercasing: "always" or "true" selects
// ExtractAlways; any other value (including "never" and "false") selects
// ExtractNever.
func ParseExtractMode(s string) ExtractMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always", "true":
		return ExtractAlways
	default:
		return ExtractNever
	}
}

// framesPerSecond and bytesPerFrame are the standard CD-DA sector
// geometry (75 sectors/sec, 2352 bytes/sector) used to translate a CUE
// sheet's MM:SS:FF index positions into byte offsets.
const (
	framesPerSecond = 75
	bytesPerFrame   = 2352
	wavHeaderSize   = 44
)

type track struct {
	name   string
	audio  bool
	offset int64 // byte offset of raw PCM/data within the backing image
	size   int64 // raw payload size (excludes any synthesized WAV header)
}

// Source is a fully-parsed CUE sheet bound to its backing image file.
type Source struct {
	imagePath string
	mode      ExtractMode
	tracks    []track
	byName    map[string]*track
	cache     map[string][]byte
}

// Parse reads cuePath and resolves its FILE reference relative to
// cuePath's directory.
func Parse(cuePath string, mode ExtractMode) (*Source, error) {
	f, err := os.Open(cuePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var imageName string
	type rawTrack struct {
		num   int
		audio bool
		frame int
	}
	var raw []rawTrack
	cur := rawTrack{num: -1}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "FILE "):
			imageName = extractQuoted(line)

		case strings.HasPrefix(upper, "TRACK "):
			if cur.num >= 0 {
				raw = append(raw, cur)
			}
			fields := strings.Fields(line)
			num := 0
			if len(fields) >= 2 {
				num, _ = strconv.Atoi(fields[1])
			}
			audio := len(fields) >= 3 && strings.EqualFold(fields[2], "AUDIO")
			cur = rawTrack{num: num, audio: audio, frame: -1}

		case strings.HasPrefix(upper, "INDEX 01"):
			fields := strings.Fields(line)
			if len(fields) >= 3 && cur.frame < 0 {
				cur.frame = parseMSF(fields[2])
			}
		}
	}
	if cur.num >= 0 {
		raw = append(raw, cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if imageName == "" || len(raw) == 0 {
		return nil, fmt.Errorf("cue: no FILE/TRACK entries found in %s", cuePath)
	}

	imagePath := filepath.Join(filepath.Dir(cuePath), imageName)
	imageInfo, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("cue: backing image %q: %w", imagePath, err)
	}
	imageSize := imageInfo.Size()

	s := &Source{imagePath: imagePath, mode: mode, byName: make(map[string]*track), cache: make(map[string][]byte)}
	for i, rt := range raw {
		start := int64(rt.frame) * bytesPerFrame
		end := imageSize
		if i+1 < len(raw) {
			end = int64(raw[i+1].frame) * bytesPerFrame
		}
		if end < start {
			end = start
		}

		ext := "bin"
		if rt.audio {
			ext = "wav"
		}
		t := track{name: fmt.Sprintf("Track%02d.%s", rt.num, ext), audio: rt.audio, offset: start, size: end - start}
		s.tracks = append(s.tracks, t)
	}
	for i := range s.tracks {
		s.byName[s.tracks[i].name] = &s.tracks[i]
	}

	if mode == ExtractAlways {
		for _, t := range s.tracks {
			data, err := s.readTrack(&t)
			if err != nil {
				return nil, err
			}
			s.cache[t.name] = data
		}
	}

	return s, nil
}

func extractQuoted(line string) string {
	i := strings.IndexByte(line, '"')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(line[i+1:], '"')
	if j < 0 {
		return ""
	}
	return line[i+1 : i+1+j]
}

func parseMSF(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	m, _ := strconv.Atoi(parts[0])
	sec, _ := strconv.Atoi(parts[1])
	fr, _ := strconv.Atoi(parts[2])
	return (m*60+sec)*framesPerSecond + fr
}

// virtualSize is the size reported to callers: the raw payload plus a
// synthesized WAV header for audio tracks.
func (t *track) virtualSize() int64 {
	if t.audio {
		return wavHeaderSize + t.size
	}
	return t.size
}

func wavHeader(dataSize int64) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataSize))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], 2) // stereo
	binary.LittleEndian.PutUint32(h[24:28], 44100)
	binary.LittleEndian.PutUint32(h[28:32], 44100*4)
	binary.LittleEndian.PutUint16(h[32:34], 4)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataSize))
	return h
}

func (s *Source) readTrack(t *track) ([]byte, error) {
	f, err := os.Open(s.imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, t.size)
	if _, err := f.ReadAt(buf, t.offset); err != nil {
		return nil, err
	}

	if t.audio {
		return append(wavHeader(t.size), buf...), nil
	}
	return buf, nil
}

// readAt satisfies one Read/ExportData call against a track, using the
// cache when ExtractAlways populated it.
func (s *Source) readAt(t *track, offset int64, buf []byte) (int, error) {
	if cached, ok := s.cache[t.name]; ok {
		if offset >= int64(len(cached)) {
			return 0, nil
		}
		n := copy(buf, cached[offset:])
		return n, nil
	}

	if t.audio && offset < wavHeaderSize {
		header := wavHeader(t.size)
		n := copy(buf, header[offset:])
		if n < len(buf) {
			m, err := s.readRaw(t, 0, buf[n:])
			return n + m, err
		}
		return n, nil
	}

	rawOffset := offset
	if t.audio {
		rawOffset -= wavHeaderSize
	}
	return s.readRaw(t, rawOffset, buf)
}

func (s *Source) readRaw(t *track, rawOffset int64, buf []byte) (int, error) {
	if rawOffset >= t.size {
		return 0, nil
	}
	f, err := os.Open(s.imagePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	remaining := t.size - rawOffset
	want := int64(len(buf))
	if want > remaining {
		buf = buf[:remaining]
	}
	return f.ReadAt(buf, t.offset+rawOffset)
}

func (s *Source) Name() string   { return "cue" }
func (s *Source) Writable() bool { return false }

func (s *Source) lookup(real string) (*track, error) {
	name := vpath.Base(vpath.Clean(real))
	t, ok := s.byName[name]
	if !ok {
		return nil, vfserrors.NotExists("cue", real)
	}
	return t, nil
}

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	if vpath.Clean(real) == "" {
		return &source.Info{Name: "", Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
	}
	t, err := s.lookup(real)
	if err != nil {
		return nil, err
	}
	return &source.Info{Name: t.name, Type: source.TypeFile, Size: t.virtualSize(), Mode: 0444}, nil
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	if vpath.Clean(real) != "" {
		return vfserrors.NotExists("listfiles", real)
	}
	for _, t := range s.tracks {
		if !fn(&source.Info{Name: t.name, Type: source.TypeFile, Size: t.virtualSize(), Mode: 0444}) {
			break
		}
	}
	return nil
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}
	t, err := s.lookup(real)
	if err != nil {
		return nil, nil, err
	}
	return t, &source.Info{Name: t.name, Type: source.TypeFile, Size: t.virtualSize(), Mode: 0444}, nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error { return nil }

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	t := h.(*track)
	return s.readAt(t, offset, buf)
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

// exportPortation is the PortationContext analog: a cursor tracking
// strictly-increasing read offsets into one track (spec.md §9 — the
// copy-up engine must write in offset order; this source never seeks
// backwards to satisfy that, matching the original's streaming design).
type exportPortation struct {
	t      *track
	cursor int64
}

func (s *Source) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	t, err := s.lookup(real)
	if err != nil {
		return nil, err
	}
	return &exportPortation{t: t}, nil
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	ep := p.(*exportPortation)
	if ep.cursor >= ep.t.virtualSize() {
		return 0, io.EOF
	}
	n, err := s.readAt(ep.t, ep.cursor, buf)
	ep.cursor += int64(n)
	if err == nil && n == 0 {
		err = io.EOF
	}
	return n, err
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "cue", FileSystemName: "cue", MaxComponentLen: 255}, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}
