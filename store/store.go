package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

// Record is the stored download status of one package.
type Record struct {
	PackageID    int
	CourseID     int
	Status       model.PrefetchStatus
	Size         int64
	TimeModified int64 // newest source modification time at download
	DownloadedAt int64
}

// Store keeps one status record per package.
type Store struct {
	db *sql.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record of a package. The boolean is false when the package
// has never been recorded.
func (s *Store) Get(ctx context.Context, packageID int) (Record, bool, error) {
	var r Record
	var status string
	err := s.db.QueryRowContext(ctx, `
	SELECT package_id, course_id, status, size, time_modified, downloaded_at
	FROM package_status WHERE package_id = ?`, packageID).
		Scan(&r.PackageID, &r.CourseID, &status, &r.Size, &r.TimeModified, &r.DownloadedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "failed to read status of package %d", packageID)
	}
	r.Status = model.PrefetchStatus(status)
	return r, true, nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO package_status(package_id, course_id, status, size, time_modified, downloaded_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(package_id) DO UPDATE SET
	 course_id = excluded.course_id,
	 status = excluded.status,
	 size = excluded.size,
	 time_modified = excluded.time_modified,
	 downloaded_at = excluded.downloaded_at,
	 updated_at = CURRENT_TIMESTAMP`,
		r.PackageID, r.CourseID, string(r.Status), r.Size, r.TimeModified, r.DownloadedAt)
	return errors.Wrapf(err, "failed to store status of package %d", r.PackageID)
}

// SetStatus changes the status of a package, creating the record if needed.
func (s *Store) SetStatus(ctx context.Context, packageID, courseID int, status model.PrefetchStatus) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO package_status(package_id, course_id, status, updated_at)
	VALUES(?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(package_id) DO UPDATE SET status = excluded.status, updated_at = CURRENT_TIMESTAMP`,
		packageID, courseID, string(status))
	return errors.Wrapf(err, "failed to set status of package %d", packageID)
}

// MarkDownloaded records a finished download.
func (s *Store) MarkDownloaded(ctx context.Context, packageID, courseID int, size, timeModified int64) error {
	return s.Put(ctx, Record{
		PackageID:    packageID,
		CourseID:     courseID,
		Status:       model.StatusDownloaded,
		Size:         size,
		TimeModified: timeModified,
		DownloadedAt: time.Now().Unix(),
	})
}

// Invalidate marks a local copy as outdated so the next status query and
// download re-derive it from the site.
func (s *Store) Invalidate(ctx context.Context, packageID int) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE package_status SET status = ?, time_modified = 0, updated_at = CURRENT_TIMESTAMP
	WHERE package_id = ? AND status IN (?, ?)`,
		string(model.StatusOutdated), packageID, string(model.StatusDownloaded), string(model.StatusOutdated))
	return errors.Wrapf(err, "failed to invalidate package %d", packageID)
}

func (s *Store) Delete(ctx context.Context, packageID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM package_status WHERE package_id = ?`, packageID)
	return errors.Wrapf(err, "failed to delete status of package %d", packageID)
}
