// Package seed copies a host directory tree into a freshly mounted ramfs
// before it is exported.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"ramfs/internal/ramfs"
)

// copyChunk is the size of each Write issued while copying a file.
const copyChunk = 64 * 1024

// Result summarises one seeding run.
type Result struct {
	Dirs    int
	Files   int
	Bytes   int64
	Skipped int
	Elapsed time.Duration
}

// Options tunes Seed. A nil Filter copies everything.
type Options struct {
	Filter Filter
}

// Seed copies hostDir into the root of fsys. Symlinks, devices, and names
// the filesystem cannot hold are skipped. Running out of space aborts the
// copy and returns what was copied so far together with the error.
func Seed(ctx context.Context, fsys ramfs.FileSystem, hostDir string, opts Options) (Result, error) {
	start := time.Now()
	var res Result

	info, err := os.Stat(hostDir)
	if err != nil {
		return res, fmt.Errorf("seed source: %w", err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("seed source %s: %w", hostDir, ramfs.ENOTDIR)
	}

	err = filepath.WalkDir(hostDir, func(hostPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			log.Warnf("[seed] %s: %v", hostPath, walkErr)
			res.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if hostPath == hostDir {
			return nil
		}

		rel, err := filepath.Rel(hostDir, hostPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Filter != nil && !opts.Filter(rel, d.IsDir()) {
			log.Debugf("[seed] filtered %s", rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := path.Join("/", rel)
		switch {
		case d.IsDir():
			err = copyDir(fsys, target, d)
			if err == nil {
				res.Dirs++
				return nil
			}
		case d.Type().IsRegular():
			var n int64
			n, err = copyFile(fsys, hostPath, target, d)
			res.Bytes += n
			if err == nil {
				res.Files++
				return nil
			}
		default:
			log.Debugf("[seed] skipping %s (%s)", rel, d.Type())
			res.Skipped++
			return nil
		}

		if skippable(err) {
			log.Warnf("[seed] skipping %s: %v", rel, err)
			res.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fmt.Errorf("seed %s: %w", rel, err)
	})

	res.Elapsed = time.Since(start)
	log.Infof("[seed] copied %d dirs, %d files, %d bytes from %s in %v (%d skipped)",
		res.Dirs, res.Files, res.Bytes, hostDir, res.Elapsed, res.Skipped)
	return res, err
}

// skippable errors affect one entry; everything else (ENOMEM, EIO, host
// read failures) stops the run.
func skippable(err error) bool {
	return errors.Is(err, ramfs.ENAMETOOLONG) || errors.Is(err, ramfs.EINVAL) || errors.Is(err, os.ErrPermission)
}

func copyDir(fsys ramfs.FileSystem, target string, d fs.DirEntry) error {
	mode := uint32(0o755)
	if info, err := d.Info(); err == nil {
		mode = uint32(info.Mode().Perm())
	}
	return fsys.Mkdir(target, mode)
}

func copyFile(fsys ramfs.FileSystem, hostPath, target string, d fs.DirEntry) (int64, error) {
	mode := uint32(0o644)
	if info, err := d.Info(); err == nil {
		mode = uint32(info.Mode().Perm())
	}

	src, err := os.Open(hostPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	f, err := fsys.Creat(target, mode)
	if err != nil {
		return 0, err
	}

	var copied int64
	buf := make([]byte, copyChunk)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := fsys.Write(f, buf[:n])
			copied += int64(w)
			if werr != nil {
				fsys.Close(f)
				return copied, werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			fsys.Close(f)
			return copied, rerr
		}
	}
	return copied, fsys.Close(f)
}
