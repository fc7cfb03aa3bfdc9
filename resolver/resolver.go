// Package resolver deploys packages and resolves the displayable source of
// their pages, from the device when a local copy exists and from the site
// otherwise.
package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

var (
	ErrNotDeployed = errors.New("package has not been deployed")
	ErrNotFound    = errors.New("page not found in package")
	ErrDeployment  = errors.New("package deployment failed")
	ErrNoContents  = errors.New("package has no contents")
	ErrNoBaseURL   = errors.New("package files have no usable URL")
)

// DeploymentError wraps the reason a package could not be deployed.
type DeploymentError struct {
	PackageID int
	Err       error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment of package %d failed: %v", e.PackageID, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

func (e *DeploymentError) Is(target error) bool {
	return target == ErrDeployment
}

// LocalCache tells where the downloaded copy of a package lives.
type LocalCache interface {
	LocalDir(ctx context.Context, pkg *model.Package) (string, bool)
}

// Deployment is a package prepared for source resolution.
type Deployment struct {
	Local    bool
	Dir      string
	Base     *url.URL
	Manifest *Manifest
	files    map[string]bool
}

// Has reports whether the deployment can serve href.
func (d *Deployment) Has(href string) bool {
	return d.files[cleanHref(href)]
}

// Resolver keeps one deployment per package.
type Resolver struct {
	Cache LocalCache
	Token string

	mu          sync.RWMutex
	deployments map[int]*Deployment
}

func New(cache LocalCache, token string) *Resolver {
	return &Resolver{
		Cache:       cache,
		Token:       token,
		deployments: make(map[int]*Deployment),
	}
}

// Deploy prepares pkg so its pages can be resolved. A local copy is indexed
// from its manifest and files; otherwise the remote file URLs are indexed.
func (r *Resolver) Deploy(ctx context.Context, pkg *model.Package) error {
	if len(pkg.Contents) == 0 {
		return &DeploymentError{PackageID: pkg.ID, Err: ErrNoContents}
	}

	var (
		d   *Deployment
		err error
	)
	if dir, ok := r.Cache.LocalDir(ctx, pkg); ok {
		d, err = deployLocal(dir)
	} else {
		d, err = deployRemote(pkg)
	}
	if err != nil {
		return &DeploymentError{PackageID: pkg.ID, Err: err}
	}

	r.mu.Lock()
	r.deployments[pkg.ID] = d
	r.mu.Unlock()

	log.Debugw("package deployed", "package", pkg.ID, "local", d.Local, "files", len(d.files))
	return nil
}

func deployLocal(dir string) (*Deployment, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, err
	}

	d := &Deployment{
		Local:    true,
		Dir:      dir,
		Manifest: m,
		files:    make(map[string]bool),
	}
	err = filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(p, ".part") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		d.files[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to index \"%s\"", dir)
	}
	return d, nil
}

func deployRemote(pkg *model.Package) (*Deployment, error) {
	d := &Deployment{files: make(map[string]bool)}
	for _, f := range pkg.Files() {
		rel := cleanHref(f.RelPath())
		d.files[rel] = true

		if d.Base != nil || f.FileURL == "" {
			continue
		}
		u, err := url.Parse(f.FileURL)
		if err != nil || !strings.HasSuffix(u.Path, "/"+rel) {
			continue
		}
		d.Base = &url.URL{
			Scheme: u.Scheme,
			User:   u.User,
			Host:   u.Host,
			Path:   strings.TrimSuffix(u.Path, rel),
		}
	}
	if d.Base == nil {
		return nil, ErrNoBaseURL
	}
	return d, nil
}

// Deployment returns the current deployment of a package.
func (r *Resolver) Deployment(pkgID int) (*Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[pkgID]
	return d, ok
}

// Forget drops the deployment of a package.
func (r *Resolver) Forget(pkgID int) {
	r.mu.Lock()
	delete(r.deployments, pkgID)
	r.mu.Unlock()
}

// ResolveSource returns the locator of the page href of a deployed package.
func (r *Resolver) ResolveSource(pkg *model.Package, href string) (model.Locator, error) {
	d, ok := r.Deployment(pkg.ID)
	if !ok {
		return model.Locator{}, errors.WithStack(ErrNotDeployed)
	}

	ref, err := url.Parse(href)
	if href == "" || err != nil || !d.Has(href) {
		return model.Locator{}, errors.Wrapf(ErrNotFound, "href \"%s\"", href)
	}
	rel := cleanHref(href)

	if d.Local {
		loc := filepath.Join(d.Dir, filepath.FromSlash(rel))
		if ref.RawQuery != "" {
			loc += "?" + ref.RawQuery
		}
		if ref.Fragment != "" {
			loc += "#" + ref.Fragment
		}
		return model.LocalFile(loc), nil
	}

	u := d.Base.ResolveReference(&url.URL{Path: rel, RawQuery: ref.RawQuery, Fragment: ref.Fragment})
	if r.Token != "" {
		q := u.Query()
		q.Set("token", r.Token)
		u.RawQuery = q.Encode()
	}
	return model.RemoteURL(u), nil
}

// Tree returns the table of contents declared by the manifest of a locally
// deployed package.
func (r *Resolver) Tree(pkgID int) []model.Node {
	d, ok := r.Deployment(pkgID)
	if !ok || d.Manifest == nil {
		return nil
	}
	return d.Manifest.Tree
}
