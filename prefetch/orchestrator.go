// Package prefetch drives a package view: it loads and deploys the package,
// shows its first page, and downloads, invalidates or removes its files on
// request.
package prefetch

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/list"
	"github.com/wkbae/go-cp-viewer/model"
	"github.com/wkbae/go-cp-viewer/navigation"
)

// Message keys shown through the Notifier.
const (
	MsgErrorDownloading          = "core.errordownloading"
	MsgErrorDownloadingSomeFiles = "core.errordownloadingsomefiles"
	MsgErrorDeletingFiles        = "core.errordeletefile"
	MsgDeploymentError           = "mod_imscp.deploymenterror"
)

const confirmRemoveFiles = "Are you sure you want to delete the files of this package?"

var (
	ErrBusy     = errors.New("another operation is in progress")
	ErrDeclined = errors.New("declined by user")
)

// Collaborators are the services and view hooks an Orchestrator works with.
type Collaborators struct {
	Metadata   MetadataProvider
	Cache      CacheProvider
	Resolver   SourceResolver
	Publisher  navigation.Publisher
	Confirmer  Confirmer
	Notifier   Notifier
	Display    StatusDisplay
	Refresh    RefreshSignaler
	Completion CompletionTracker
	Liveness   Liveness
	Online     OnlineChecker
}

// Orchestrator owns the view of one package.
type Orchestrator struct {
	pkg      *model.Package
	courseID int
	c        Collaborators
	nav      *navigation.Controller

	machine machine
	// guards the package contents and serialises cache mutations
	cacheMu sync.Mutex

	mu         sync.Mutex
	loaded     bool
	refreshing bool
	status     model.StatusInfo
}

func New(pkg *model.Package, courseID int, c Collaborators) *Orchestrator {
	return &Orchestrator{
		pkg:      pkg,
		courseID: courseID,
		c:        c,
		nav:      navigation.NewController(pkg, c.Resolver, c.Publisher),
		status:   model.StatusInfo{Status: model.StatusNotDownloaded, Icon: model.IconDownload},
	}
}

func (o *Orchestrator) Package() *model.Package {
	return o.pkg
}

func (o *Orchestrator) Navigation() *navigation.Controller {
	return o.nav
}

func (o *Orchestrator) State() State {
	return o.machine.current()
}

// Loaded reports whether the content has been shown at least once.
func (o *Orchestrator) Loaded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loaded
}

func (o *Orchestrator) Status() model.StatusInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) showStatus(info model.StatusInfo) {
	o.mu.Lock()
	o.status = info
	o.mu.Unlock()
	o.c.Display.ShowStatus(info)
}

// locked runs fn while no other operation reads or changes the package.
func (o *Orchestrator) locked(fn func() error) error {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	return fn()
}

func declined(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(ErrDeclined, err.Error())
}

// notify shows an error unless the view is gone.
func (o *Orchestrator) notify(msg string, isKey bool) {
	if o.c.Liveness != nil && !o.c.Liveness.Alive() {
		log.Debugw("view is gone, dropping error", "package", o.pkg.ID, "message", msg)
		return
	}
	o.c.Notifier.ShowError(msg, isKey)
}

// RefreshStatus reads the download status of the package and shows it.
// Failures show a not-downloaded status.
func (o *Orchestrator) RefreshStatus(ctx context.Context) {
	var info model.StatusInfo
	err := o.locked(func() (err error) {
		info, err = o.c.Cache.Status(ctx, o.pkg)
		return err
	})
	if err != nil {
		log.Warnw("failed to get package status", "package", o.pkg.ID, "error", err)
		info = model.StatusInfo{Status: model.StatusNotDownloaded}
		info.Icon = info.Status.Icon()
	}
	log.Debugw("package status",
		"package", o.pkg.ID,
		"status", info.Status,
		"size", info.SizeReadable,
		"modified", info.LastModifiedLabel(),
	)
	o.showStatus(info)
}

// Prefetch downloads the package files after the user confirmed the download
// size. Declining is not an error.
func (o *Orchestrator) Prefetch(ctx context.Context) error {
	start, err := o.machine.begin(Estimating)
	if err != nil {
		return errors.Wrap(ErrBusy, o.machine.current().String())
	}

	saved := o.Status()
	spinning := saved
	spinning.Icon = model.IconSpinner
	o.showStatus(spinning)

	// abort puts back the icon and the state the prefetch started from
	abort := func() {
		o.showStatus(saved)
		if err := o.machine.restore(start); err != nil {
			log.Errorw("failed to reset prefetch", "package", o.pkg.ID, "error", err)
		}
	}

	var size model.Size
	err = o.locked(func() (err error) {
		size, err = o.c.Cache.DownloadSize(ctx, o.pkg)
		return err
	})
	if err != nil {
		abort()
		if msg := errors.Cause(err).Error(); msg != "" {
			o.notify(msg, false)
		} else {
			o.notify(MsgErrorDownloading, true)
		}
		return errors.Wrap(err, "failed to estimate download size")
	}

	if err := o.machine.transition(AwaitingConfirmation); err != nil {
		abort()
		return err
	}
	if err := declined(o.c.Confirmer.ConfirmDownloadSize(ctx, size)); err != nil {
		abort()
		log.Debugw("prefetch not confirmed", "package", o.pkg.ID, "reason", err)
		return nil
	}

	if err := o.machine.transition(Downloading); err != nil {
		abort()
		return err
	}
	if err := o.download(ctx); err != nil {
		o.showStatus(saved)
		o.notify(MsgErrorDownloading, true)
		return err
	}
	o.RefreshStatus(ctx)
	return nil
}

// download runs the cache download in state Downloading and moves to the
// final state.
func (o *Orchestrator) download(ctx context.Context) error {
	err := o.locked(func() error {
		return o.c.Cache.Download(ctx, o.pkg)
	})

	final := Downloaded
	if err != nil {
		final = Failed
		log.Warnw("package download failed", "package", o.pkg.ID, "error", err)
	}
	if terr := o.machine.transition(final); terr != nil {
		log.Errorw("failed to finish download", "package", o.pkg.ID, "error", terr)
	}
	return err
}

// LoadContent loads the package metadata, downloads and deploys the package
// and shows the current page. A failure is reported to the user once and
// returned.
func (o *Orchestrator) LoadContent(ctx context.Context) error {
	id := uuid.NewString()
	log.Debugw("loading package", "load", id, "package", o.pkg.ID, "course", o.courseID)

	err := o.loadContent(ctx, id)
	if err != nil {
		log.Errorw("failed to load package", "load", id, "package", o.pkg.ID, "error", err)
		o.notify(MsgDeploymentError, true)
	}
	o.c.Display.SetRefreshIcon(model.IconRefresh)
	return err
}

func (o *Orchestrator) loadContent(ctx context.Context, id string) error {
	var items model.ItemList
	err := o.locked(func() error {
		if err := o.c.Metadata.LoadModuleContents(ctx, o.pkg, o.courseID); err != nil {
			return errors.Wrap(err, "failed to load package contents")
		}
		items = list.FromContents(o.pkg.Contents)
		return nil
	})
	if err != nil {
		return err
	}
	o.nav.SetItems(items)

	var title, description string
	info, err := o.c.Metadata.GetPackageInfo(ctx, o.courseID, o.pkg.ID)
	if err != nil {
		log.Debugw("package info not available", "load", id, "error", err)
	}
	_ = o.locked(func() error {
		// empty remote values keep the local ones
		if info.Name != "" {
			o.pkg.Name = info.Name
		}
		if info.Intro != "" {
			o.pkg.Description = info.Intro
		}
		title, description = o.pkg.Name, o.pkg.Description
		return nil
	})
	o.c.Display.ShowPackage(title, description)

	downloadFailed := false
	if err := o.machine.transition(Downloading); err != nil {
		log.Debugw("skipping download", "load", id, "state", o.machine.current())
	} else if err := o.download(ctx); err != nil {
		downloadFailed = true
	}
	o.RefreshStatus(ctx)

	err = o.locked(func() error {
		return o.c.Resolver.Deploy(ctx, o.pkg)
	})
	if err != nil {
		return err
	}

	if items.Len() == 0 {
		if ts, ok := o.c.Resolver.(TreeSource); ok {
			items = list.Build(ts.Tree(o.pkg.ID))
			o.nav.SetItems(items)
		}
	}

	current := o.nav.Current()
	if items.IndexOf(current) < 0 {
		current = items.First()
	}
	if err := o.nav.Load(current); err != nil {
		log.Errorw("failed to show page", "load", id, "href", current, "error", err)
	}

	if downloadFailed && o.c.Online.Online() {
		o.notify(MsgErrorDownloadingSomeFiles, true)
	}

	o.mu.Lock()
	o.loaded = true
	o.mu.Unlock()
	o.c.Display.SetLoaded(true)
	log.Infow("package loaded", "load", id, "package", o.pkg.ID, "items", items.Len())
	return nil
}

// InvalidateAndReload discards the cached content and loads it again. It
// does nothing until the content was loaded or while a refresh is running.
func (o *Orchestrator) InvalidateAndReload(ctx context.Context) error {
	o.mu.Lock()
	if !o.loaded || o.refreshing {
		o.mu.Unlock()
		return nil
	}
	o.refreshing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.refreshing = false
		o.mu.Unlock()
		o.c.Refresh.RefreshComplete()
	}()

	o.c.Display.SetRefreshIcon(model.IconSpinner)
	if err := o.invalidate(ctx); err != nil {
		log.Warnw("failed to invalidate package", "package", o.pkg.ID, "error", err)
	}
	return o.LoadContent(ctx)
}

func (o *Orchestrator) invalidate(ctx context.Context) error {
	tracked := false
	switch o.machine.current() {
	case Downloaded, Failed:
		if err := o.machine.transition(Invalidating); err != nil {
			return err
		}
		tracked = true
	}

	err := o.locked(func() error {
		err := o.c.Cache.InvalidateContent(ctx, o.pkg.ID, o.courseID)
		o.c.Resolver.Forget(o.pkg.ID)
		o.pkg.Contents = nil
		return err
	})

	if tracked {
		if terr := o.machine.transition(Idle); terr != nil {
			return terr
		}
	}
	return err
}

// Activate loads the content the first time the view is shown and reports
// the view to the site.
func (o *Orchestrator) Activate(ctx context.Context) error {
	o.c.Display.SetRefreshIcon(model.IconSpinner)
	if err := o.LoadContent(ctx); err != nil {
		return err
	}

	if err := o.c.Completion.LogView(ctx, o.pkg.Instance); err != nil {
		log.Debugw("failed to log view", "package", o.pkg.ID, "error", err)
		return nil
	}
	if err := o.c.Completion.CheckModuleCompletion(ctx, o.pkg, o.courseID); err != nil {
		log.Debugw("failed to check completion", "package", o.pkg.ID, "error", err)
	}
	return nil
}

// RemoveFiles deletes the downloaded files of the package once the user
// confirmed it.
func (o *Orchestrator) RemoveFiles(ctx context.Context) error {
	if o.machine.current().Busy() {
		return errors.WithStack(ErrBusy)
	}
	if err := declined(o.c.Confirmer.Confirm(ctx, confirmRemoveFiles)); err != nil {
		log.Debugw("file removal not confirmed", "package", o.pkg.ID, "reason", err)
		return nil
	}

	err := o.locked(func() error {
		return o.c.Cache.RemoveFiles(ctx, o.pkg)
	})
	if err != nil {
		o.notify(MsgErrorDeletingFiles, true)
		o.RefreshStatus(ctx)
		return err
	}

	o.machine.settle(Idle)
	o.RefreshStatus(ctx)
	return nil
}
