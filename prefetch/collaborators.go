package prefetch

import (
	"context"

	"github.com/wkbae/go-cp-viewer/model"
)

// MetadataProvider loads package metadata from the site.
type MetadataProvider interface {
	LoadModuleContents(ctx context.Context, pkg *model.Package, courseID int) error
	GetPackageInfo(ctx context.Context, courseID, moduleID int) (model.PackageInfo, error)
}

// CacheProvider manages the package files kept on the device.
type CacheProvider interface {
	DownloadSize(ctx context.Context, pkg *model.Package) (model.Size, error)
	Download(ctx context.Context, pkg *model.Package) error
	InvalidateContent(ctx context.Context, moduleID, courseID int) error
	Status(ctx context.Context, pkg *model.Package) (model.StatusInfo, error)
	RemoveFiles(ctx context.Context, pkg *model.Package) error
}

// SourceResolver deploys packages and resolves their pages.
type SourceResolver interface {
	Deploy(ctx context.Context, pkg *model.Package) error
	ResolveSource(pkg *model.Package, href string) (model.Locator, error)
	Forget(pkgID int)
}

// TreeSource is implemented by resolvers that can read the table of contents
// from a deployed package.
type TreeSource interface {
	Tree(pkgID int) []model.Node
}

// Confirmer asks the user. A returned error means the user declined.
type Confirmer interface {
	ConfirmDownloadSize(ctx context.Context, size model.Size) error
	Confirm(ctx context.Context, msg string) error
}

// Notifier shows errors. When isKey is true msg is a message key.
type Notifier interface {
	ShowError(msg string, isKey bool)
}

// StatusDisplay renders the state of the package view.
type StatusDisplay interface {
	ShowStatus(info model.StatusInfo)
	ShowPackage(title, description string)
	SetRefreshIcon(icon string)
	SetLoaded(loaded bool)
}

type RefreshSignaler interface {
	RefreshComplete()
}

// CompletionTracker reports views and activity completion to the site.
type CompletionTracker interface {
	LogView(ctx context.Context, instance int) error
	// CheckModuleCompletion refreshes pkg.Completion after a view.
	CheckModuleCompletion(ctx context.Context, pkg *model.Package, courseID int) error
}

// Liveness reports whether the view that started an operation still exists.
type Liveness interface {
	Alive() bool
}

type OnlineChecker interface {
	Online() bool
}
