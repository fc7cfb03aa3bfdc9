package prefetch

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/wkbae/go-cp-viewer/model"
)

const testStructure = `[
	{"href": "p1.html", "title": "One", "level": 1},
	{"href": "", "title": "Part", "level": 1, "subitems": [
		{"href": "p2.html", "title": "Two", "level": 2},
		{"href": "p3.html", "title": "Three", "level": 2}
	]}
]`

var errBoom = errors.New("boom")

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) count(s string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, v := range e.log {
		if v == s {
			n++
		}
	}
	return n
}

func (e *events) index(s string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range e.log {
		if v == s {
			return i
		}
	}
	return -1
}

type fakeMetadata struct {
	ev       *events
	contents []model.ContentEntry
	loadErr  error
	info     *model.PackageInfo
}

func (m *fakeMetadata) LoadModuleContents(ctx context.Context, pkg *model.Package, courseID int) error {
	m.ev.add("contents")
	if m.loadErr != nil {
		return m.loadErr
	}
	if len(pkg.Contents) == 0 {
		pkg.Contents = m.contents
	}
	return nil
}

func (m *fakeMetadata) GetPackageInfo(ctx context.Context, courseID, moduleID int) (model.PackageInfo, error) {
	if m.info == nil {
		return model.PackageInfo{}, errBoom
	}
	return *m.info, nil
}

type fakeCache struct {
	ev            *events
	size          model.Size
	sizeErr       error
	downloadErr   error
	invalidateErr error
	statusErr     error
	status        model.PrefetchStatus
}

func (c *fakeCache) DownloadSize(ctx context.Context, pkg *model.Package) (model.Size, error) {
	c.ev.add("size")
	return c.size, c.sizeErr
}

func (c *fakeCache) Download(ctx context.Context, pkg *model.Package) error {
	c.ev.add("download")
	if c.downloadErr != nil {
		c.status = model.StatusError
		return c.downloadErr
	}
	c.status = model.StatusDownloaded
	return nil
}

func (c *fakeCache) InvalidateContent(ctx context.Context, moduleID, courseID int) error {
	c.ev.add("invalidate")
	return c.invalidateErr
}

func (c *fakeCache) Status(ctx context.Context, pkg *model.Package) (model.StatusInfo, error) {
	if c.statusErr != nil {
		return model.StatusInfo{}, c.statusErr
	}
	st := c.status
	if st == "" {
		st = model.StatusNotDownloaded
	}
	return model.StatusInfo{Status: st, Icon: st.Icon(), Size: 2048, SizeReadable: "2 KB"}, nil
}

func (c *fakeCache) RemoveFiles(ctx context.Context, pkg *model.Package) error {
	c.ev.add("remove")
	c.status = model.StatusNotDownloaded
	return nil
}

type fakeResolver struct {
	ev         *events
	deployErrs []error
	forgotten  int
}

func (r *fakeResolver) Deploy(ctx context.Context, pkg *model.Package) error {
	r.ev.add("deploy")
	if len(r.deployErrs) == 0 {
		return nil
	}
	err := r.deployErrs[0]
	r.deployErrs = r.deployErrs[1:]
	return err
}

func (r *fakeResolver) ResolveSource(pkg *model.Package, href string) (model.Locator, error) {
	return model.LocalFile("/packages/" + href), nil
}

func (r *fakeResolver) Forget(pkgID int) {
	r.forgotten++
}

type treeResolver struct {
	fakeResolver
	tree []model.Node
}

func (r *treeResolver) Tree(pkgID int) []model.Node {
	return r.tree
}

type fakeView struct {
	ev          *events
	mu          sync.Mutex
	published   []model.Locator
	errors      []string
	statuses    []model.StatusInfo
	title       string
	description string
	icons       []string
	loaded      bool
	confirm     error
	dead        bool
	online      bool
	completed   int
}

func (v *fakeView) PublishSource(loc model.Locator) {
	v.mu.Lock()
	v.published = append(v.published, loc)
	v.mu.Unlock()
}

func (v *fakeView) ConfirmDownloadSize(ctx context.Context, size model.Size) error {
	v.ev.add("confirm")
	return v.confirm
}

func (v *fakeView) Confirm(ctx context.Context, msg string) error {
	v.ev.add("confirm")
	return v.confirm
}

func (v *fakeView) ShowError(msg string, isKey bool) {
	v.mu.Lock()
	v.errors = append(v.errors, msg)
	v.mu.Unlock()
}

func (v *fakeView) ShowStatus(info model.StatusInfo) {
	v.mu.Lock()
	v.statuses = append(v.statuses, info)
	v.mu.Unlock()
}

func (v *fakeView) ShowPackage(title, description string) {
	v.mu.Lock()
	v.title, v.description = title, description
	v.mu.Unlock()
}

func (v *fakeView) SetRefreshIcon(icon string) {
	v.mu.Lock()
	v.icons = append(v.icons, icon)
	v.mu.Unlock()
}

func (v *fakeView) SetLoaded(loaded bool) {
	v.ev.add("loaded")
	v.mu.Lock()
	v.loaded = loaded
	v.mu.Unlock()
}

func (v *fakeView) RefreshComplete() {
	v.ev.add("refresh-complete")
	v.mu.Lock()
	v.completed++
	v.mu.Unlock()
}

func (v *fakeView) Alive() bool {
	return !v.dead
}

func (v *fakeView) Online() bool {
	return v.online
}

func (v *fakeView) lastIcon() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1].Icon
}

type fakeCompletion struct {
	ev         *events
	logErr     error
	lastStatus model.CompletionStatus
}

func (c *fakeCompletion) LogView(ctx context.Context, instance int) error {
	c.ev.add("logview")
	return c.logErr
}

func (c *fakeCompletion) CheckModuleCompletion(ctx context.Context, pkg *model.Package, courseID int) error {
	c.ev.add("completion")
	c.lastStatus = pkg.Completion
	pkg.Completion.State = 1
	return nil
}

type fixture struct {
	ev         *events
	pkg        *model.Package
	metadata   *fakeMetadata
	cache      *fakeCache
	resolver   SourceResolver
	view       *fakeView
	completion *fakeCompletion
}

func newFixture() *fixture {
	ev := &events{}
	return &fixture{
		ev:  ev,
		pkg: &model.Package{ID: 7, Instance: 3, CourseID: 2, Name: "Package"},
		metadata: &fakeMetadata{ev: ev, contents: []model.ContentEntry{
			{Type: model.ContentTypeContent, Filename: model.StructureFilename, Content: testStructure},
			{Type: model.ContentTypeFile, Filename: "p1.html", Filepath: "/"},
		}},
		cache:      &fakeCache{ev: ev},
		resolver:   &fakeResolver{ev: ev},
		view:       &fakeView{ev: ev, online: true},
		completion: &fakeCompletion{ev: ev},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.pkg, 2, Collaborators{
		Metadata:   f.metadata,
		Cache:      f.cache,
		Resolver:   f.resolver,
		Publisher:  f.view,
		Confirmer:  f.view,
		Notifier:   f.view,
		Display:    f.view,
		Refresh:    f.view,
		Completion: f.completion,
		Liveness:   f.view,
		Online:     f.view,
	})
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Idle, Estimating, true},
		{Estimating, AwaitingConfirmation, true},
		{AwaitingConfirmation, Downloading, true},
		{AwaitingConfirmation, Idle, true},
		{Downloading, Downloaded, true},
		{Downloading, Failed, true},
		{Downloaded, Invalidating, true},
		{Failed, Invalidating, true},
		{Invalidating, Idle, true},
		{Idle, Invalidating, false},
		{Idle, Downloaded, false},
		{Downloading, Invalidating, false},
		{Estimating, Downloading, false},
		{Invalidating, Downloading, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			require.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	var m machine
	err := m.transition(Downloaded)
	require.True(t, errors.Is(err, ErrIllegalTransition))
	require.Equal(t, Idle, m.current())
}

func TestPrefetchDeclined(t *testing.T) {
	f := newFixture()
	f.view.confirm = errors.New("cancelled")
	o := f.orchestrator()
	o.RefreshStatus(context.Background())
	before := f.view.lastIcon()

	require.NoError(t, o.Prefetch(context.Background()))
	require.Equal(t, before, f.view.lastIcon())
	require.Equal(t, 0, f.ev.count("download"))
	require.Equal(t, Idle, o.State())
	require.Empty(t, f.view.errors)

	var sawSpinner bool
	for _, s := range f.view.statuses {
		sawSpinner = sawSpinner || s.Icon == model.IconSpinner
	}
	require.True(t, sawSpinner)
}

func TestPrefetchConfirmed(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	require.NoError(t, o.Prefetch(context.Background()))
	require.Equal(t, 1, f.ev.count("download"))
	require.Less(t, f.ev.index("confirm"), f.ev.index("download"))
	require.Equal(t, Downloaded, o.State())
	require.Equal(t, model.IconDownloaded, f.view.lastIcon())
}

func TestPrefetchDownloadFailure(t *testing.T) {
	tests := []struct {
		name   string
		dead   bool
		errors int
	}{
		{"alive view", false, 1},
		{"torn down view", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cache.downloadErr = errBoom
			f.view.dead = tt.dead
			o := f.orchestrator()

			err := o.Prefetch(context.Background())
			require.Error(t, err)
			require.Equal(t, Failed, o.State())
			require.Equal(t, model.IconDownload, f.view.lastIcon())
			require.Len(t, f.view.errors, tt.errors)
			if tt.errors > 0 {
				require.Equal(t, MsgErrorDownloading, f.view.errors[0])
			}
		})
	}
}

func TestPrefetchSizeFailure(t *testing.T) {
	f := newFixture()
	f.cache.sizeErr = errors.Wrap(errors.New("site unreachable"), "size")
	o := f.orchestrator()

	require.Error(t, o.Prefetch(context.Background()))
	require.Equal(t, Idle, o.State())
	require.Equal(t, model.IconDownload, f.view.lastIcon())
	require.Equal(t, []string{"site unreachable"}, f.view.errors)
	require.Equal(t, 0, f.ev.count("confirm"))
}

func TestPrefetchAbortKeepsSettledState(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	require.NoError(t, o.Prefetch(context.Background()))
	require.Equal(t, Downloaded, o.State())

	f.view.confirm = errors.New("cancelled")
	require.NoError(t, o.Prefetch(context.Background()))
	require.Equal(t, Downloaded, o.State())

	f.view.confirm = nil
	f.cache.sizeErr = errBoom
	require.Error(t, o.Prefetch(context.Background()))
	require.Equal(t, Downloaded, o.State())

	// the refresh still goes through Invalidating
	require.NoError(t, o.LoadContent(context.Background()))
	require.NoError(t, o.InvalidateAndReload(context.Background()))
	require.Equal(t, 1, f.ev.count("invalidate"))
	require.Equal(t, Downloaded, o.State())
}

func TestMachineRestore(t *testing.T) {
	var m machine
	start, err := m.begin(Estimating)
	require.NoError(t, err)
	require.Equal(t, Idle, start)
	require.Error(t, m.restore(Downloading))
	require.NoError(t, m.restore(Failed))
	require.Equal(t, Failed, m.current())
	require.Error(t, m.restore(Idle))
}

func TestConcurrentPrefetchAndRefresh(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	ctx := context.Background()
	require.NoError(t, o.LoadContent(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = o.Prefetch(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = o.InvalidateAndReload(ctx)
		}()
	}
	wg.Wait()

	require.False(t, o.State().Busy())
	require.True(t, o.Loaded())
	require.NotEmpty(t, o.Package().Contents)
}

func TestPrefetchBusy(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	o.machine.state = Downloading

	err := o.Prefetch(context.Background())
	require.True(t, errors.Is(err, ErrBusy))
	require.Equal(t, 0, f.ev.count("size"))
}

func TestLoadContent(t *testing.T) {
	f := newFixture()
	f.metadata.info = &model.PackageInfo{Name: "Remote title"}
	o := f.orchestrator()

	require.NoError(t, o.LoadContent(context.Background()))
	require.True(t, o.Loaded())
	require.True(t, f.view.loaded)
	require.Equal(t, "Remote title", f.view.title)
	require.Equal(t, []model.Locator{model.LocalFile("/packages/p1.html")}, f.view.published)
	require.Equal(t, model.NavigationState{Current: "p1.html", Next: "p2.html"}, o.Navigation().State())
	require.Equal(t, 3, o.Navigation().Items().Len())
	require.Equal(t, model.IconRefresh, f.view.icons[len(f.view.icons)-1])
	require.Equal(t, Downloaded, o.State())

	order := []string{"contents", "download", "deploy", "loaded"}
	for i := 1; i < len(order); i++ {
		require.Less(t, f.ev.index(order[i-1]), f.ev.index(order[i]), order[i])
	}
}

func TestLoadContentPackageInfoUnavailable(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	require.NoError(t, o.LoadContent(context.Background()))
	require.Equal(t, "Package", f.view.title)
	require.Empty(t, f.view.errors)
}

func TestLoadContentPackageInfoKeepsLocalValues(t *testing.T) {
	tests := []struct {
		name        string
		info        model.PackageInfo
		title       string
		description string
	}{
		{"empty remote values", model.PackageInfo{}, "Package", "Local intro"},
		{"remote name only", model.PackageInfo{Name: "Remote"}, "Remote", "Local intro"},
		{"remote intro only", model.PackageInfo{Intro: "Remote intro"}, "Package", "Remote intro"},
		{"both remote", model.PackageInfo{Name: "Remote", Intro: "Remote intro"}, "Remote", "Remote intro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.pkg.Description = "Local intro"
			info := tt.info
			f.metadata.info = &info
			o := f.orchestrator()

			require.NoError(t, o.LoadContent(context.Background()))
			require.Equal(t, tt.title, f.view.title)
			require.Equal(t, tt.description, f.view.description)
			require.Equal(t, tt.title, o.Package().Name)
			require.Equal(t, tt.description, o.Package().Description)
		})
	}
}

func TestLoadContentDeploymentFailure(t *testing.T) {
	f := newFixture()
	f.resolver = &fakeResolver{ev: f.ev, deployErrs: []error{errBoom}}
	o := f.orchestrator()

	err := o.LoadContent(context.Background())
	require.Error(t, err)
	require.False(t, o.Loaded())
	require.Equal(t, 0, f.ev.count("loaded"))
	require.Equal(t, []string{MsgDeploymentError}, f.view.errors)
	require.Empty(t, f.view.published)
}

func TestLoadContentMetadataFailure(t *testing.T) {
	f := newFixture()
	f.metadata.loadErr = errBoom
	o := f.orchestrator()

	require.Error(t, o.LoadContent(context.Background()))
	require.False(t, o.Loaded())
	require.Equal(t, []string{MsgDeploymentError}, f.view.errors)
	require.Equal(t, 0, f.ev.count("deploy"))
}

func TestLoadContentDownloadFailure(t *testing.T) {
	tests := []struct {
		name     string
		online   bool
		warnings int
	}{
		{"online", true, 1},
		{"offline", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cache.downloadErr = errBoom
			f.view.online = tt.online
			o := f.orchestrator()

			require.NoError(t, o.LoadContent(context.Background()))
			require.True(t, o.Loaded())
			require.Len(t, f.view.errors, tt.warnings)
			if tt.warnings > 0 {
				require.Equal(t, MsgErrorDownloadingSomeFiles, f.view.errors[0])
			}
			require.Len(t, f.view.published, 1)
			require.Equal(t, Failed, o.State())
		})
	}
}

func TestLoadContentManifestTree(t *testing.T) {
	f := newFixture()
	f.metadata.contents = []model.ContentEntry{
		{Type: model.ContentTypeFile, Filename: "imsmanifest.xml", Filepath: "/"},
	}
	f.resolver = &treeResolver{
		fakeResolver: fakeResolver{ev: f.ev},
		tree: []model.Node{
			{Href: "a.html", Title: "A", Level: 1},
			{Href: "b.html", Title: "B", Level: 1},
		},
	}
	o := f.orchestrator()

	require.NoError(t, o.LoadContent(context.Background()))
	require.Equal(t, 2, o.Navigation().Items().Len())
	require.Equal(t, []model.Locator{model.LocalFile("/packages/a.html")}, f.view.published)
}

func TestLoadContentKeepsCurrentPage(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	require.NoError(t, o.LoadContent(context.Background()))
	require.NoError(t, o.Navigation().Load("p3.html"))

	require.NoError(t, o.LoadContent(context.Background()))
	require.Equal(t, "p3.html", o.Navigation().Current())
	// same source again: cleared, then shown
	n := len(f.view.published)
	require.True(t, f.view.published[n-2].IsZero())
	require.Equal(t, model.LocalFile("/packages/p3.html"), f.view.published[n-1])
}

func TestInvalidateAndReloadBeforeLoad(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	require.NoError(t, o.InvalidateAndReload(context.Background()))
	require.Equal(t, 0, f.ev.count("invalidate"))
	require.Equal(t, 0, f.ev.count("contents"))
	require.Equal(t, 0, f.view.completed)
}

func TestInvalidateAndReload(t *testing.T) {
	tests := []struct {
		name          string
		invalidateErr error
		deployErrs    []error
		wantErr       bool
	}{
		{"success", nil, nil, false},
		{"invalidation fails", errBoom, nil, false},
		{"reload fails", nil, []error{nil, errBoom}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cache.invalidateErr = tt.invalidateErr
			res := &fakeResolver{ev: f.ev, deployErrs: tt.deployErrs}
			f.resolver = res
			o := f.orchestrator()
			require.NoError(t, o.LoadContent(context.Background()))

			err := o.InvalidateAndReload(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, 1, f.view.completed)
			require.Equal(t, "refresh-complete", f.ev.log[len(f.ev.log)-1])
			require.Equal(t, 1, f.ev.count("invalidate"))
			require.Equal(t, 1, res.forgotten)
			require.Equal(t, 2, f.ev.count("contents"))
			require.Less(t, f.ev.index("invalidate"), len(f.ev.log)-1)
			require.True(t, o.Loaded())
			require.Equal(t, Downloaded, o.State())
		})
	}
}

func TestActivate(t *testing.T) {
	f := newFixture()
	f.pkg.Completion = model.CompletionStatus{Tracking: model.TrackingAutomatic}
	o := f.orchestrator()

	require.NoError(t, o.Activate(context.Background()))
	require.Less(t, f.ev.index("loaded"), f.ev.index("logview"))
	require.Less(t, f.ev.index("logview"), f.ev.index("completion"))
	require.Equal(t, model.TrackingAutomatic, f.completion.lastStatus.Tracking)
	require.Equal(t, 1, o.Package().Completion.State)
}

func TestActivateLogViewFailure(t *testing.T) {
	f := newFixture()
	f.completion.logErr = errBoom
	o := f.orchestrator()

	require.NoError(t, o.Activate(context.Background()))
	require.Equal(t, 1, f.ev.count("logview"))
	require.Equal(t, 0, f.ev.count("completion"))
}

func TestActivateDeploymentFailure(t *testing.T) {
	f := newFixture()
	f.resolver = &fakeResolver{ev: f.ev, deployErrs: []error{errBoom}}
	o := f.orchestrator()

	require.Error(t, o.Activate(context.Background()))
	require.Equal(t, 0, f.ev.count("logview"))
	require.Len(t, f.view.errors, 1)
}

func TestRemoveFiles(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	require.NoError(t, o.Prefetch(context.Background()))
	require.Equal(t, Downloaded, o.State())

	f.view.confirm = errors.New("no")
	require.NoError(t, o.RemoveFiles(context.Background()))
	require.Equal(t, 0, f.ev.count("remove"))

	f.view.confirm = nil
	require.NoError(t, o.RemoveFiles(context.Background()))
	require.Equal(t, 1, f.ev.count("remove"))
	require.Equal(t, Idle, o.State())
	require.Equal(t, model.IconDownload, f.view.lastIcon())
}

func TestRefreshStatusFailure(t *testing.T) {
	f := newFixture()
	f.cache.statusErr = errBoom
	o := f.orchestrator()

	o.RefreshStatus(context.Background())
	require.Equal(t, model.StatusNotDownloaded, o.Status().Status)
	require.Equal(t, model.IconDownload, f.view.lastIcon())
	require.Empty(t, f.view.errors)
}
