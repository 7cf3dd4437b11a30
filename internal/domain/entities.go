package domain

import (
	"encoding/json"
	"time"
)

// Entity is a system-of-record object owned by the relational store.
// Implementations are pointers so the store can assign ids on create.
type Entity interface {
	Kind() EntityKind
	EntityID() int64
	SetEntityID(id int64)
	// OwnerProjectID returns the project the entity is listed under, or 0.
	OwnerProjectID() int64
	Deleted() bool
}

// ProjectRef is the denormalized project relation carried by most entities.
type ProjectRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserRef is a creator or assignee relation.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Tag is a tag relation.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WorkflowState is a workflow relation with its display metadata.
type WorkflowState struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	IconColor string `json:"iconColor,omitempty"`
}

// NamedRef is a relation that only contributes an id and a name
// (templates, configurations, milestones, integrations).
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Folder is one node of a repository folder tree.
type Folder struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ParentID  *int64 `json:"parentId,omitempty"`
	ProjectID int64  `json:"projectId"`
}

// FieldOption is a selectable option of a Dropdown or Multi-Select field.
type FieldOption struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	IconColor string `json:"iconColor,omitempty"`
}

// CustomFieldValue is one typed custom-field assignment together with the
// field metadata needed to project it.
type CustomFieldValue struct {
	FieldID   int64         `json:"fieldId"`
	FieldName string        `json:"fieldName"`
	FieldType string        `json:"fieldType"`
	Value     any           `json:"value"`
	Options   []FieldOption `json:"options,omitempty"`
}

// Step is a repository case step. A step referencing a shared step group
// carries no content of its own; it is expanded from the group.
type Step struct {
	ID                int64           `json:"id"`
	Order             int             `json:"order"`
	Step              json.RawMessage `json:"step,omitempty"`
	ExpectedResult    json.RawMessage `json:"expectedResult,omitempty"`
	SharedStepGroupID *int64          `json:"sharedStepGroupId,omitempty"`
	IsDeleted         bool            `json:"isDeleted,omitempty"`
}

// SharedStepItem is one step inside a shared step group.
type SharedStepItem struct {
	ID             int64           `json:"id"`
	Order          int             `json:"order"`
	Step           json.RawMessage `json:"step,omitempty"`
	ExpectedResult json.RawMessage `json:"expectedResult,omitempty"`
}

// RepositoryCase is a test case in a project repository.
type RepositoryCase struct {
	ID           int64              `json:"id"`
	ProjectID    int64              `json:"projectId"`
	Project      ProjectRef         `json:"project"`
	RepositoryID int64              `json:"repositoryId"`
	FolderID     *int64             `json:"folderId,omitempty"`
	Name         string             `json:"name"`
	ClassName    string             `json:"className,omitempty"`
	Source       string             `json:"source,omitempty"`
	State        WorkflowState      `json:"state"`
	Template     NamedRef           `json:"template"`
	Estimate     *int               `json:"estimate,omitempty"`
	Automated    bool               `json:"automated"`
	IsArchived   bool               `json:"isArchived"`
	IsDeleted    bool               `json:"isDeleted"`
	CreatedAt    time.Time          `json:"createdAt"`
	Creator      UserRef            `json:"creator"`
	Tags         []Tag              `json:"tags,omitempty"`
	Steps        []Step             `json:"steps,omitempty"`
	CustomFields []CustomFieldValue `json:"customFields,omitempty"`
}

func (c *RepositoryCase) Kind() EntityKind      { return KindRepositoryCase }
func (c *RepositoryCase) EntityID() int64       { return c.ID }
func (c *RepositoryCase) SetEntityID(id int64)  { c.ID = id }
func (c *RepositoryCase) OwnerProjectID() int64 { return c.ProjectID }
func (c *RepositoryCase) Deleted() bool         { return c.IsDeleted }

// SharedStepGroup is a reusable list of steps referenced from repository cases.
type SharedStepGroup struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	ProjectID int64            `json:"projectId"`
	Project   ProjectRef       `json:"project"`
	IsDeleted bool             `json:"isDeleted"`
	CreatedAt time.Time        `json:"createdAt"`
	Creator   UserRef          `json:"creator"`
	Items     []SharedStepItem `json:"items,omitempty"`
}

func (g *SharedStepGroup) Kind() EntityKind      { return KindSharedStep }
func (g *SharedStepGroup) EntityID() int64       { return g.ID }
func (g *SharedStepGroup) SetEntityID(id int64)  { g.ID = id }
func (g *SharedStepGroup) OwnerProjectID() int64 { return g.ProjectID }
func (g *SharedStepGroup) Deleted() bool         { return g.IsDeleted }

// TestRun is an execution of a set of repository cases.
type TestRun struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	ProjectID     int64           `json:"projectId"`
	Project       ProjectRef      `json:"project"`
	Note          json.RawMessage `json:"note,omitempty"`
	Docs          json.RawMessage `json:"docs,omitempty"`
	TestRunType   string          `json:"testRunType,omitempty"`
	State         WorkflowState   `json:"state"`
	Configuration *NamedRef       `json:"configuration,omitempty"`
	Milestone     *NamedRef       `json:"milestone,omitempty"`
	IsCompleted   bool            `json:"isCompleted"`
	IsDeleted     bool            `json:"isDeleted"`
	Elapsed       *int            `json:"elapsed,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	Creator       UserRef         `json:"creator"`
	Tags          []Tag           `json:"tags,omitempty"`
}

func (r *TestRun) Kind() EntityKind      { return KindTestRun }
func (r *TestRun) EntityID() int64       { return r.ID }
func (r *TestRun) SetEntityID(id int64)  { r.ID = id }
func (r *TestRun) OwnerProjectID() int64 { return r.ProjectID }
func (r *TestRun) Deleted() bool         { return r.IsDeleted }

// Session is an exploratory testing session.
type Session struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	ProjectID     int64              `json:"projectId"`
	Project       ProjectRef         `json:"project"`
	Note          json.RawMessage    `json:"note,omitempty"`
	Mission       json.RawMessage    `json:"mission,omitempty"`
	State         WorkflowState      `json:"state"`
	Template      NamedRef           `json:"template"`
	Configuration *NamedRef          `json:"configuration,omitempty"`
	Milestone     *NamedRef          `json:"milestone,omitempty"`
	Assignee      *UserRef           `json:"assignedTo,omitempty"`
	Estimate      *int               `json:"estimate,omitempty"`
	Elapsed       *int               `json:"elapsed,omitempty"`
	IsCompleted   bool               `json:"isCompleted"`
	IsDeleted     bool               `json:"isDeleted"`
	CreatedAt     time.Time          `json:"createdAt"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
	Creator       UserRef            `json:"creator"`
	Tags          []Tag              `json:"tags,omitempty"`
	CustomFields  []CustomFieldValue `json:"customFields,omitempty"`
}

func (s *Session) Kind() EntityKind      { return KindSession }
func (s *Session) EntityID() int64       { return s.ID }
func (s *Session) SetEntityID(id int64)  { s.ID = id }
func (s *Session) OwnerProjectID() int64 { return s.ProjectID }
func (s *Session) Deleted() bool         { return s.IsDeleted }

// IssueLinks lists the projects of every entity an issue is linked to,
// grouped by link type.
type IssueLinks struct {
	RepositoryCases    []ProjectRef `json:"repositoryCases,omitempty"`
	Sessions           []ProjectRef `json:"sessions,omitempty"`
	TestRuns           []ProjectRef `json:"testRuns,omitempty"`
	SessionResults     []ProjectRef `json:"sessionResults,omitempty"`
	TestRunResults     []ProjectRef `json:"testRunResults,omitempty"`
	TestRunStepResults []ProjectRef `json:"testRunStepResults,omitempty"`
}

// Issue is an external issue-tracker item linked into TestPlanIt.
type Issue struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Title       string          `json:"title"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      string          `json:"status,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	ExternalID  string          `json:"externalId,omitempty"`
	ExternalKey string          `json:"externalKey,omitempty"`
	ExternalURL string          `json:"externalUrl,omitempty"`
	ProjectID   *int64          `json:"projectId,omitempty"`
	Project     *ProjectRef     `json:"project,omitempty"`
	Integration *NamedRef       `json:"integration,omitempty"`
	Links       IssueLinks      `json:"links"`
	IsDeleted   bool            `json:"isDeleted"`
	CreatedAt   time.Time       `json:"createdAt"`
	Creator     UserRef         `json:"creator"`
}

func (i *Issue) Kind() EntityKind     { return KindIssue }
func (i *Issue) EntityID() int64      { return i.ID }
func (i *Issue) SetEntityID(id int64) { i.ID = id }
func (i *Issue) Deleted() bool        { return i.IsDeleted }

// OwnerProjectID returns the resolved project id, or 0 for orphaned issues.
func (i *Issue) OwnerProjectID() int64 {
	if p, _ := i.ResolveProject(); p != nil {
		return p.ID
	}
	return 0
}

// ResolveProject walks the project fallback chain: the direct project link
// first, then the first linked repository case, session, test run, session
// result, test run result and test run step result, in that order.
// The second return value names the link that resolved the project.
func (i *Issue) ResolveProject() (*ProjectRef, string) {
	if i.Project != nil && i.Project.ID != 0 {
		return i.Project, "project"
	}
	if i.ProjectID != nil && *i.ProjectID != 0 {
		return &ProjectRef{ID: *i.ProjectID}, "project"
	}
	chain := []struct {
		source string
		refs   []ProjectRef
	}{
		{"repositoryCases", i.Links.RepositoryCases},
		{"sessions", i.Links.Sessions},
		{"testRuns", i.Links.TestRuns},
		{"sessionResults", i.Links.SessionResults},
		{"testRunResults", i.Links.TestRunResults},
		{"testRunStepResults", i.Links.TestRunStepResults},
	}
	for _, link := range chain {
		if len(link.refs) > 0 && link.refs[0].ID != 0 {
			ref := link.refs[0]
			return &ref, link.source
		}
	}
	return nil, ""
}

// Milestone is a project milestone.
type Milestone struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	ProjectID     int64           `json:"projectId"`
	Project       ProjectRef      `json:"project"`
	Note          json.RawMessage `json:"note,omitempty"`
	Docs          json.RawMessage `json:"docs,omitempty"`
	MilestoneType *WorkflowState  `json:"milestoneType,omitempty"`
	ParentID      *int64          `json:"parentId,omitempty"`
	IsStarted     bool            `json:"isStarted"`
	IsCompleted   bool            `json:"isCompleted"`
	IsDeleted     bool            `json:"isDeleted"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Creator       UserRef         `json:"creator"`
}

func (m *Milestone) Kind() EntityKind      { return KindMilestone }
func (m *Milestone) EntityID() int64       { return m.ID }
func (m *Milestone) SetEntityID(id int64)  { m.ID = id }
func (m *Milestone) OwnerProjectID() int64 { return m.ProjectID }
func (m *Milestone) Deleted() bool         { return m.IsDeleted }

// Project is a TestPlanIt project.
type Project struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Note        json.RawMessage `json:"note,omitempty"`
	Docs        json.RawMessage `json:"docs,omitempty"`
	IconURL     string          `json:"iconUrl,omitempty"`
	IsCompleted bool            `json:"isCompleted"`
	IsDeleted   bool            `json:"isDeleted"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Creator     UserRef         `json:"creator"`
}

func (p *Project) Kind() EntityKind      { return KindProject }
func (p *Project) EntityID() int64       { return p.ID }
func (p *Project) SetEntityID(id int64)  { p.ID = id }
func (p *Project) OwnerProjectID() int64 { return p.ID }
func (p *Project) Deleted() bool         { return p.IsDeleted }

// NewEntity returns an empty entity of the given kind, ready to be decoded into.
func NewEntity(kind EntityKind) (Entity, error) {
	switch kind {
	case KindRepositoryCase:
		return &RepositoryCase{}, nil
	case KindSharedStep:
		return &SharedStepGroup{}, nil
	case KindTestRun:
		return &TestRun{}, nil
	case KindSession:
		return &Session{}, nil
	case KindIssue:
		return &Issue{}, nil
	case KindMilestone:
		return &Milestone{}, nil
	case KindProject:
		return &Project{}, nil
	}
	return nil, ErrUnknownEntityKind
}
