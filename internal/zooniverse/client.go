// Package zooniverse talks to the Panoptes API that backs Zooniverse projects.
// It creates subject sets, uploads subjects with their media and links
// subjects into sets.
package zooniverse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Metadata is the flattened key/value map attached to a subject.
type Metadata map[string]string

// SubjectSet is a named batch of subjects inside a project.
type SubjectSet struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Subject is a single uploaded media item.
type Subject struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
}

// Client is the subset of Panoptes used when publishing a batch.
type Client interface {
	CreateSubjectSet(ctx context.Context, projectID, name string) (*SubjectSet, error)
	CreateSubject(ctx context.Context, projectID, mediaPath string, metadata Metadata) (*Subject, error)
	AddSubjects(ctx context.Context, setID string, subjectIDs []string) error
}

// StubClient records calls without reaching the network. It backs dry runs
// and tests.
type StubClient struct {
	logger *slog.Logger

	mu       sync.Mutex
	next     int
	Sets     []SubjectSet
	Subjects []Subject
	Links    map[string][]string
	// FailMedia makes CreateSubject fail for the listed media paths.
	FailMedia map[string]error
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger, Links: make(map[string][]string)}
}

func (c *StubClient) id() string {
	c.next++
	return fmt.Sprintf("stub-%d", c.next)
}

func (c *StubClient) CreateSubjectSet(ctx context.Context, projectID, name string) (*SubjectSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := SubjectSet{ID: c.id(), DisplayName: name}
	c.Sets = append(c.Sets, set)
	c.log("zooniverse stub: subject set created", "project_id", projectID, "name", name, "set_id", set.ID)
	return &set, nil
}

func (c *StubClient) CreateSubject(ctx context.Context, projectID, mediaPath string, metadata Metadata) (*Subject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.FailMedia[mediaPath]; ok {
		return nil, err
	}
	s := Subject{ID: c.id(), Metadata: metadata}
	c.Subjects = append(c.Subjects, s)
	c.log("zooniverse stub: subject created", "project_id", projectID, "media", mediaPath, "subject_id", s.ID)
	return &s, nil
}

func (c *StubClient) AddSubjects(ctx context.Context, setID string, subjectIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Links[setID] = append(c.Links[setID], subjectIDs...)
	c.log("zooniverse stub: subjects linked", "set_id", setID, "count", len(subjectIDs))
	return nil
}

func (c *StubClient) log(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}
