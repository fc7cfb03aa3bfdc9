// Package content keeps the files of packages on the device: it estimates
// download sizes, downloads and removes files and reports the download
// status of a package.
package content

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/fetcher"
	"github.com/wkbae/go-cp-viewer/model"
	"github.com/wkbae/go-cp-viewer/store"
)

const DefaultParallelism = 4

// Cache stores package files under Dir/<course>/<package>/.
type Cache struct {
	Dir         string
	Token       string
	Parallelism int
	Fetcher     *fetcher.Client
	Store       *store.Store
}

func NewCache(dir, token string, parallelism int, f *fetcher.Client, s *store.Store) *Cache {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Cache{
		Dir:         dir,
		Token:       token,
		Parallelism: parallelism,
		Fetcher:     f,
		Store:       s,
	}
}

// PackageDir returns the directory holding the files of pkg.
func (c *Cache) PackageDir(pkg *model.Package) string {
	return c.packageDir(pkg.CourseID, pkg.ID)
}

func (c *Cache) packageDir(courseID, pkgID int) string {
	return filepath.Join(c.Dir, strconv.Itoa(courseID), strconv.Itoa(pkgID))
}

// LocalDir returns the package directory when a downloaded copy exists.
func (c *Cache) LocalDir(ctx context.Context, pkg *model.Package) (string, bool) {
	rec, ok, err := c.Store.Get(ctx, pkg.ID)
	if err != nil || !ok || !rec.Status.IsLocal() {
		return "", false
	}
	dir := c.PackageDir(pkg)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

func (c *Cache) fileURL(entry model.ContentEntry) (string, error) {
	u, err := url.Parse(entry.FileURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid file URL \"%s\"", entry.FileURL)
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// pending returns the files of pkg that are missing or stale on the device.
func (c *Cache) pending(ctx context.Context, pkg *model.Package) ([]model.ContentEntry, error) {
	rec, ok, err := c.Store.Get(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}

	dir := c.PackageDir(pkg)
	var res []model.ContentEntry
	for _, f := range pkg.Files() {
		if ok && rec.Status == model.StatusDownloaded && f.TimeModified <= rec.TimeModified {
			info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f.RelPath())))
			if err == nil && (f.Filesize <= 0 || info.Size() == f.Filesize) {
				continue
			}
		}
		res = append(res, f)
	}
	return res, nil
}

// DownloadSize estimates how many bytes a download of pkg would transfer.
func (c *Cache) DownloadSize(ctx context.Context, pkg *model.Package) (model.Size, error) {
	files, err := c.pending(ctx, pkg)
	if err != nil {
		return model.Size{}, err
	}

	size := model.Size{Total: true}
	for _, f := range files {
		if f.Filesize <= 0 {
			size.Total = false
			continue
		}
		size.Bytes += f.Filesize
	}
	return size, nil
}

// Download fetches the missing or stale files of pkg. On failure the package
// is marked as errored; files that did arrive are kept.
func (c *Cache) Download(ctx context.Context, pkg *model.Package) error {
	files, err := c.pending(ctx, pkg)
	if err != nil {
		return err
	}
	if err := c.Store.SetStatus(ctx, pkg.ID, pkg.CourseID, model.StatusDownloading); err != nil {
		return err
	}

	l := Loader{
		DownloadPath: c.PackageDir(pkg),
		Parallelism:  c.Parallelism,
		Fetcher:      c.Fetcher,
	}
	for _, f := range files {
		u, err := c.fileURL(f)
		if err != nil {
			return c.fail(ctx, pkg, err)
		}
		l.Files = append(l.Files, File{URL: u, Path: f.RelPath(), Version: f.TimeModified})
	}

	start := time.Now()
	errCh := make(chan error)
	go l.Run(ctx, errCh)

	var errs []error
	for err := range errCh {
		log.Warnw("package file download failed", "package", pkg.ID, "error", err)
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return c.fail(ctx, pkg, errors.Wrapf(errs[0], "%d of %d files failed to download", len(errs), len(files)))
	}

	log.Infow("package downloaded", "package", pkg.ID, "files", len(files), "elapsed", time.Since(start).String())
	return c.Store.MarkDownloaded(ctx, pkg.ID, pkg.CourseID, dirSize(c.PackageDir(pkg)), pkg.LastModified())
}

func (c *Cache) fail(ctx context.Context, pkg *model.Package, cause error) error {
	// the status update must survive a cancelled download
	if err := c.Store.SetStatus(context.WithoutCancel(ctx), pkg.ID, pkg.CourseID, model.StatusError); err != nil {
		log.Errorw("failed to record download error", "package", pkg.ID, "error", err)
	}
	return cause
}

// InvalidateContent marks the local copy of a package as outdated.
func (c *Cache) InvalidateContent(ctx context.Context, moduleID, courseID int) error {
	log.Debugw("invalidating package content", "package", moduleID, "course", courseID)
	if err := removeParts(c.packageDir(courseID, moduleID)); err != nil {
		return err
	}
	return c.Store.Invalidate(ctx, moduleID)
}

// Status reports the download status of pkg. A downloaded package whose
// contents changed on the site since the download is outdated.
func (c *Cache) Status(ctx context.Context, pkg *model.Package) (model.StatusInfo, error) {
	info := model.StatusInfo{Status: model.StatusNotDownloaded}
	if latest := pkg.LastModified(); latest > 0 {
		info.TimeModified = time.Unix(latest, 0)
	}

	rec, ok, err := c.Store.Get(ctx, pkg.ID)
	if err != nil {
		info.Icon = info.Status.Icon()
		return info, err
	}
	if ok {
		info.Status = rec.Status
		if info.Status == model.StatusDownloaded && pkg.LastModified() > rec.TimeModified {
			info.Status = model.StatusOutdated
		}
	}
	if info.Status.IsLocal() {
		info.Size = dirSize(c.PackageDir(pkg))
		info.SizeReadable = FormatSize(info.Size)
	}
	info.Icon = info.Status.Icon()
	return info, nil
}

// RemoveFiles deletes the local copy of pkg and forgets its status.
func (c *Cache) RemoveFiles(ctx context.Context, pkg *model.Package) error {
	if err := os.RemoveAll(c.PackageDir(pkg)); err != nil {
		return errors.Wrapf(err, "failed to remove files of package %d", pkg.ID)
	}
	return c.Store.Delete(ctx, pkg.ID)
}
