package metadata

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

var ErrModuleNotFound = errors.New("module not found in course")

type sectionJSON struct {
	ID      int          `json:"id"`
	Modules []moduleJSON `json:"modules"`
}

type moduleJSON struct {
	ID             int                  `json:"id"`
	Instance       int                  `json:"instance"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	URL            string               `json:"url"`
	Completion     int                  `json:"completion"`
	CompletionData *completionDataJSON  `json:"completiondata"`
	Contents       []model.ContentEntry `json:"contents"`
}

type completionDataJSON struct {
	State int `json:"state"`
}

func (m moduleJSON) completion() model.CompletionStatus {
	status := model.CompletionStatus{Tracking: model.CompletionTracking(m.Completion)}
	if m.CompletionData != nil {
		status.State = m.CompletionData.State
	}
	return status
}

func (c *Client) courseContents(ctx context.Context, courseID, moduleID int) ([]sectionJSON, error) {
	params := url.Values{}
	params.Set("courseid", itoa(courseID))
	if moduleID > 0 {
		params.Set("options[0][name]", "cmid")
		params.Set("options[0][value]", itoa(moduleID))
	}

	var sections []sectionJSON
	if err := c.call(ctx, "core_course_get_contents", params, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func findModule(sections []sectionJSON, moduleID int) (moduleJSON, bool) {
	for _, s := range sections {
		for _, m := range s.Modules {
			if m.ID == moduleID {
				return m, true
			}
		}
	}
	return moduleJSON{}, false
}

// LoadModuleContents fills the contents of pkg from the course contents when
// they have not been loaded yet.
func (c *Client) LoadModuleContents(ctx context.Context, pkg *model.Package, courseID int) error {
	if len(pkg.Contents) > 0 {
		return nil
	}

	sections, err := c.courseContents(ctx, courseID, pkg.ID)
	if err != nil {
		return err
	}
	m, ok := findModule(sections, pkg.ID)
	if !ok {
		return errors.Wrapf(ErrModuleNotFound, "module %d, course %d", pkg.ID, courseID)
	}

	pkg.CourseID = courseID
	pkg.Instance = m.Instance
	pkg.Contents = m.Contents
	pkg.Completion = m.completion()
	if pkg.Name == "" {
		pkg.Name = m.Name
	}
	if pkg.Description == "" {
		pkg.Description = HTMLToText(m.Description)
	}
	if pkg.URL == "" {
		pkg.URL = m.URL
	}
	return nil
}

// CheckModuleCompletion reloads the completion state of pkg when viewing it
// may have completed it, and stores the new state in pkg.Completion.
func (c *Client) CheckModuleCompletion(ctx context.Context, pkg *model.Package, courseID int) error {
	if !pkg.Completion.Pending() {
		return nil
	}

	sections, err := c.courseContents(ctx, courseID, pkg.ID)
	if err != nil {
		return err
	}
	m, ok := findModule(sections, pkg.ID)
	if !ok {
		return errors.Wrapf(ErrModuleNotFound, "module %d, course %d", pkg.ID, courseID)
	}
	pkg.Completion = m.completion()
	log.Debugw("module completion refreshed", "package", pkg.ID, "course", courseID, "state", pkg.Completion.State)
	return nil
}
