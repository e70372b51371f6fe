package transfer

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// Copier is the pair of archive primitives a container runtime must
// provide. CopyTo extracts a (possibly compressed) tar stream into dstDir
// inside the container; CopyFrom returns an uncompressed tar stream whose
// single top-level entry is the base name of srcPath.
type Copier interface {
	CopyTo(ctx context.Context, containerID, dstDir string, content io.Reader) error
	CopyFrom(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)
}

// Stager stages an input file into a container and fetches an output file
// back out of it.
type Stager interface {
	// Stage writes content to a new root-level file whose name ends in
	// suffix and returns its absolute path inside the container.
	Stage(ctx context.Context, containerID string, content []byte, suffix string) (string, error)

	// Fetch returns the contents of the file at containerPath.
	Fetch(ctx context.Context, containerID, containerPath string) ([]byte, error)
}

// stageDir is where staged files land inside the container.
const stageDir = "/"

// Archive implements Stager with single-entry tar archives that pass
// through uniquely named host temporary files.
type Archive struct {
	copier   Copier
	encoding Encoding
	tempDir  string
	logger   *zap.Logger
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithEncoding sets the compression used for uploads.
func WithEncoding(e Encoding) ArchiveOption {
	return func(a *Archive) { a.encoding = e }
}

// WithTempDir sets the host directory for temporary files. The default is
// os.TempDir().
func WithTempDir(dir string) ArchiveOption {
	return func(a *Archive) { a.tempDir = dir }
}

// WithLogger sets the logger used for temp-file cleanup diagnostics.
func WithLogger(l *zap.Logger) ArchiveOption {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewArchive returns a tar-based Stager on top of c.
func NewArchive(c Copier, opts ...ArchiveOption) *Archive {
	a := &Archive{
		copier:   c,
		encoding: EncodingIdentity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stage writes content to a temporary host file, packs it into a
// single-entry archive named by the file's base name, and extracts that
// archive at the container's root. Both host files are removed before
// returning, whatever the outcome.
func (a *Archive) Stage(ctx context.Context, containerID string, content []byte, suffix string) (string, error) {
	if strings.ContainsAny(suffix, `/\`) {
		return "", model.NewCLIError(model.ExitStagingFailed,
			fmt.Sprintf("invalid file suffix %q: must not contain path separators", suffix))
	}

	tmp, err := os.CreateTemp(a.tempDir, "ngmesh-*"+suffix)
	if err != nil {
		return "", model.WrapCLIError(model.ExitStagingFailed, "failed to create temporary geometry file", err)
	}
	hostPath := tmp.Name()
	archivePath := hostPath + ".tar"
	defer a.removeQuietly(hostPath)
	defer a.removeQuietly(archivePath)

	_, werr := tmp.Write(content)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", model.WrapCLIError(model.ExitStagingFailed, "failed to write temporary geometry file", werr)
	}

	if err := a.writeArchive(archivePath, hostPath); err != nil {
		return "", model.WrapCLIError(model.ExitStagingFailed, "failed to create geometry archive", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", model.WrapCLIError(model.ExitStagingFailed, "failed to open geometry archive", err)
	}
	defer f.Close()

	if err := a.copier.CopyTo(ctx, containerID, stageDir, f); err != nil {
		return "", model.WrapCLIError(model.ExitStagingFailed,
			fmt.Sprintf("failed to copy geometry into container %s", model.ShortID(containerID)), err)
	}

	staged := path.Join(stageDir, filepath.Base(hostPath))
	a.logger.Debug("geometry staged",
		zap.String("container", model.ShortID(containerID)),
		zap.String("path", staged),
		zap.Int("bytes", len(content)),
		zap.String("encoding", a.encoding.String()))
	return staged, nil
}

// writeArchive packs srcPath into a tar archive at archivePath containing
// one entry named by the base name only.
func (a *Archive) writeArchive(archivePath, srcPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	cw, err := a.encoding.compress(out)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.Base(srcPath),
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  info.ModTime().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, src); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

// Fetch streams containerPath out of the container into a temporary host
// archive, extracts the entry named by its base name into a fresh
// temporary directory, and returns the extracted bytes. The archive is
// removed as soon as extraction finishes; the extracted file and its
// directory are removed before returning.
func (a *Archive) Fetch(ctx context.Context, containerID, containerPath string) ([]byte, error) {
	rc, err := a.copier.CopyFrom(ctx, containerID, containerPath)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, model.WrapCLIError(model.ExitRetrievalFailed,
				fmt.Sprintf("output file %s not found in container %s", containerPath, model.ShortID(containerID)), err)
		}
		return nil, model.WrapCLIError(model.ExitRetrievalFailed,
			fmt.Sprintf("failed to copy %s out of container %s", containerPath, model.ShortID(containerID)), err)
	}

	archivePath, err := a.spool(rc)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRetrievalFailed, "failed to save output archive", err)
	}

	extractDir, err := os.MkdirTemp(a.tempDir, "ngmesh-out-")
	if err != nil {
		a.removeQuietly(archivePath)
		return nil, model.WrapCLIError(model.ExitRetrievalFailed, "failed to create extraction directory", err)
	}
	defer a.removeAllQuietly(extractDir)

	name := path.Base(containerPath)
	extracted, err := extractEntry(archivePath, name, extractDir)
	a.removeQuietly(archivePath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRetrievalFailed,
			fmt.Sprintf("failed to extract %s from output archive", name), err)
	}

	data, err := os.ReadFile(extracted)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRetrievalFailed, "failed to read extracted output", err)
	}
	a.logger.Debug("output fetched",
		zap.String("container", model.ShortID(containerID)),
		zap.String("path", containerPath),
		zap.Int("bytes", len(data)))
	return data, nil
}

// spool copies the archive stream into a temporary file and closes rc.
func (a *Archive) spool(rc io.ReadCloser) (string, error) {
	defer rc.Close()

	f, err := os.CreateTemp(a.tempDir, "ngmesh-out-*.tar")
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.removeQuietly(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// errEntryNotFound is returned when the archive lacks the requested entry.
var errEntryNotFound = errors.New("entry not found in archive")

// extractEntry writes the regular-file entry called name from the tar
// archive at archivePath into dir and returns the written path.
func extractEntry(archivePath, name, dir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %s", errEntryNotFound, name)
		}
		if err != nil {
			return "", err
		}
		if path.Clean(hdr.Name) != name {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return "", fmt.Errorf("%s is not a regular file", name)
		}

		dst := filepath.Join(dir, name)
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
		return dst, nil
	}
}

func (a *Archive) removeQuietly(p string) {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		a.logger.Debug("failed to remove temporary file", zap.String("path", p), zap.Error(err))
	}
}

func (a *Archive) removeAllQuietly(p string) {
	if err := os.RemoveAll(p); err != nil {
		a.logger.Debug("failed to remove temporary directory", zap.String("path", p), zap.Error(err))
	}
}
