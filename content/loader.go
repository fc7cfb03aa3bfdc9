package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/fetcher"
)

// File is one package file to download.
type File struct {
	URL     string
	Path    string // slash separated, relative to the download path
	Version int64  // modification time on the site, 0 when unknown
}

// partPath returns where the partial download of a file version is kept.
// Only parts of a known version can be resumed.
func partPath(fileName string, version int64) string {
	if version <= 0 {
		return fileName + ".part"
	}
	return fmt.Sprintf("%s.%d.part", fileName, version)
}

// isPartOf reports whether name is a partial download of the file base.
func isPartOf(name, base string) bool {
	if name == base+".part" {
		return true
	}
	if !strings.HasPrefix(name, base+".") || !strings.HasSuffix(name, ".part") {
		return false
	}
	version := strings.TrimSuffix(strings.TrimPrefix(name, base+"."), ".part")
	_, err := strconv.ParseInt(version, 10, 64)
	return err == nil
}

// removeStaleParts deletes partial downloads of fileName other than keep.
func removeStaleParts(fileName, keep string) error {
	dir, base := filepath.Split(fileName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read directory \"%s\"", dir)
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() || p == keep || !isPartOf(e.Name(), base) {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove \"%s\"", p)
		}
	}
	return nil
}

// Loader downloads files into DownloadPath with a fixed number of workers.
type Loader struct {
	Files        []File
	DownloadPath string
	Parallelism  int
	Fetcher      *fetcher.Client
}

// Run downloads every file and reports failures on errCh, which it closes
// when all workers are done.
func (l Loader) Run(ctx context.Context, errCh chan<- error) {
	parallelism := l.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	downloadCh := make(chan File)
	wg := &sync.WaitGroup{}

	wg.Add(parallelism)
	for i := 0; i < parallelism; i++ {
		go l.downloadWorker(ctx, wg, downloadCh, errCh)
	}

FeedLoop:
	for _, f := range l.Files {
		select {
		case downloadCh <- f:
		case <-ctx.Done():
			break FeedLoop
		}
	}
	close(downloadCh)

	wg.Wait()
	if err := ctx.Err(); err != nil {
		errCh <- errors.WithStack(err)
	}
	close(errCh)
}

func (l Loader) downloadWorker(ctx context.Context, wg *sync.WaitGroup, downloadCh <-chan File, errCh chan<- error) {
	defer wg.Done()
	for f := range downloadCh {
		if ctx.Err() != nil {
			continue
		}
		if err := l.downloadFile(ctx, f); err != nil {
			errCh <- err
		}
	}
}

func (l Loader) downloadFile(ctx context.Context, f File) error {
	fileName := filepath.Join(l.DownloadPath, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(fileName), 0700); err != nil {
		return errors.Wrapf(err, "failed to make directory for \"%s\"", fileName)
	}

	partName := partPath(fileName, f.Version)
	if err := removeStaleParts(fileName, partName); err != nil {
		return err
	}

	flags := os.O_RDWR | os.O_CREATE
	if f.Version <= 0 {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partName, flags, 0666)
	if err != nil {
		return errors.Wrapf(err, "failed to open file \"%s\"", partName)
	}

	// resume a previous partial transfer of the same version
	if _, err := file.Seek(0, 2); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "failed to seek file \"%s\"", partName)
	}

	err = l.Fetcher.GetTo(ctx, f.URL, file)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, "failed to close file \"%s\"", partName)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to download \"%s\"", f.Path)
	}

	if err := os.Rename(partName, fileName); err != nil {
		return errors.Wrapf(err, "failed to move \"%s\" into place", fileName)
	}
	return nil
}
