package domain

import (
	"strconv"
	"time"
)

// Document is the flattened, search-ready projection of one source entity.
// A document is always rebuilt in full from current source state.
type Document interface {
	// DocumentID is the index key; it equals the source entity id.
	DocumentID() string
	Kind() EntityKind
}

// Skippable is implemented by documents that may turn out not to be indexable.
// A non-empty SkipReason means the sync paths must neither index nor fail.
type Skippable interface {
	SkipReason() string
}

// Document field names shared by every index mapping.
const (
	FieldID                = "id"
	FieldName              = "name"
	FieldProjectID         = "projectId"
	FieldProjectName       = "projectName"
	FieldTags              = "tags"
	FieldSteps             = "steps"
	FieldCustomFields      = "customFields"
	FieldSearchableContent = "searchableContent"
	FieldCreatedAt         = "createdAt"
	FieldCreatorID         = "creatorId"
	FieldCreatorName       = "creatorName"
	FieldFolderPath        = "folderPath"
)

// TagDocument is the nested projection of a tag.
type TagDocument struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OptionDocument is the denormalized metadata of a selected field option.
type OptionDocument struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	IconColor string `json:"iconColor,omitempty"`
}

// CustomFieldDocument is the normalized projection of one custom field value.
// Exactly one of the typed value fields is set, matching the field type.
type CustomFieldDocument struct {
	FieldID      int64            `json:"fieldId"`
	FieldName    string           `json:"fieldName"`
	FieldType    string           `json:"fieldType"`
	Value        string           `json:"value"`
	ValueKeyword *string          `json:"valueKeyword,omitempty"`
	ValueNumeric *float64         `json:"valueNumeric,omitempty"`
	ValueBoolean *bool            `json:"valueBoolean,omitempty"`
	ValueDate    *time.Time       `json:"valueDate,omitempty"`
	ValueArray   []string         `json:"valueArray,omitempty"`
	Options      []OptionDocument `json:"options,omitempty"`
}

// StepDocument is one step of a repository case, either its own or
// expanded from a shared step group.
type StepDocument struct {
	ID                  int64  `json:"id"`
	Order               int    `json:"order"`
	Step                string `json:"step"`
	ExpectedResult      string `json:"expectedResult"`
	IsSharedStep        bool   `json:"isSharedStep"`
	SharedStepGroupID   *int64 `json:"sharedStepGroupId,omitempty"`
	SharedStepGroupName string `json:"sharedStepGroupName,omitempty"`
}

// SharedStepItemDocument is one item of a shared step group.
type SharedStepItemDocument struct {
	ID             int64  `json:"id"`
	Order          int    `json:"order"`
	Step           string `json:"step"`
	ExpectedResult string `json:"expectedResult"`
}

// RepositoryCaseDocument is the index projection of a RepositoryCase.
type RepositoryCaseDocument struct {
	ID                int64                 `json:"id"`
	ProjectID         int64                 `json:"projectId"`
	ProjectName       string                `json:"projectName"`
	RepositoryID      int64                 `json:"repositoryId"`
	FolderID          *int64                `json:"folderId,omitempty"`
	FolderPath        string                `json:"folderPath"`
	Name              string                `json:"name"`
	ClassName         string                `json:"className,omitempty"`
	Source            string                `json:"source,omitempty"`
	StateID           int64                 `json:"stateId"`
	StateName         string                `json:"stateName"`
	StateIcon         string                `json:"stateIcon,omitempty"`
	StateColor        string                `json:"stateColor,omitempty"`
	TemplateID        int64                 `json:"templateId"`
	TemplateName      string                `json:"templateName"`
	Estimate          *int                  `json:"estimate,omitempty"`
	Automated         bool                  `json:"automated"`
	IsArchived        bool                  `json:"isArchived"`
	CreatedAt         time.Time             `json:"createdAt"`
	CreatorID         string                `json:"creatorId"`
	CreatorName       string                `json:"creatorName"`
	Tags              []TagDocument         `json:"tags"`
	Steps             []StepDocument        `json:"steps"`
	CustomFields      []CustomFieldDocument `json:"customFields"`
	SearchableContent string                `json:"searchableContent"`
}

func (d *RepositoryCaseDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *RepositoryCaseDocument) Kind() EntityKind   { return KindRepositoryCase }

// SharedStepDocument is the index projection of a SharedStepGroup.
type SharedStepDocument struct {
	ID                int64                    `json:"id"`
	Name              string                   `json:"name"`
	ProjectID         int64                    `json:"projectId"`
	ProjectName       string                   `json:"projectName"`
	CreatedAt         time.Time                `json:"createdAt"`
	CreatorID         string                   `json:"creatorId"`
	CreatorName       string                   `json:"creatorName"`
	Items             []SharedStepItemDocument `json:"items"`
	SearchableContent string                   `json:"searchableContent"`
}

func (d *SharedStepDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *SharedStepDocument) Kind() EntityKind   { return KindSharedStep }

// TestRunDocument is the index projection of a TestRun.
type TestRunDocument struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	ProjectID         int64         `json:"projectId"`
	ProjectName       string        `json:"projectName"`
	Note              string        `json:"note"`
	Docs              string        `json:"docs"`
	TestRunType       string        `json:"testRunType,omitempty"`
	StateID           int64         `json:"stateId"`
	StateName         string        `json:"stateName"`
	StateIcon         string        `json:"stateIcon,omitempty"`
	StateColor        string        `json:"stateColor,omitempty"`
	ConfigurationID   *int64        `json:"configurationId,omitempty"`
	ConfigurationName string        `json:"configurationName,omitempty"`
	MilestoneID       *int64        `json:"milestoneId,omitempty"`
	MilestoneName     string        `json:"milestoneName,omitempty"`
	IsCompleted       bool          `json:"isCompleted"`
	Elapsed           *int          `json:"elapsed,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
	CreatorID         string        `json:"creatorId"`
	CreatorName       string        `json:"creatorName"`
	Tags              []TagDocument `json:"tags"`
	SearchableContent string        `json:"searchableContent"`
}

func (d *TestRunDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *TestRunDocument) Kind() EntityKind   { return KindTestRun }

// SessionDocument is the index projection of a Session.
type SessionDocument struct {
	ID                int64                 `json:"id"`
	Name              string                `json:"name"`
	ProjectID         int64                 `json:"projectId"`
	ProjectName       string                `json:"projectName"`
	Note              string                `json:"note"`
	Mission           string                `json:"mission"`
	StateID           int64                 `json:"stateId"`
	StateName         string                `json:"stateName"`
	StateIcon         string                `json:"stateIcon,omitempty"`
	StateColor        string                `json:"stateColor,omitempty"`
	TemplateID        int64                 `json:"templateId"`
	TemplateName      string                `json:"templateName"`
	ConfigurationID   *int64                `json:"configurationId,omitempty"`
	ConfigurationName string                `json:"configurationName,omitempty"`
	MilestoneID       *int64                `json:"milestoneId,omitempty"`
	MilestoneName     string                `json:"milestoneName,omitempty"`
	AssignedToID      string                `json:"assignedToId,omitempty"`
	AssignedToName    string                `json:"assignedToName,omitempty"`
	Estimate          *int                  `json:"estimate,omitempty"`
	Elapsed           *int                  `json:"elapsed,omitempty"`
	IsCompleted       bool                  `json:"isCompleted"`
	CreatedAt         time.Time             `json:"createdAt"`
	CompletedAt       *time.Time            `json:"completedAt,omitempty"`
	CreatorID         string                `json:"creatorId"`
	CreatorName       string                `json:"creatorName"`
	Tags              []TagDocument         `json:"tags"`
	CustomFields      []CustomFieldDocument `json:"customFields"`
	SearchableContent string                `json:"searchableContent"`
}

func (d *SessionDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *SessionDocument) Kind() EntityKind   { return KindSession }

// IssueDocument is the index projection of an Issue.
type IssueDocument struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Status            string    `json:"status,omitempty"`
	Priority          string    `json:"priority,omitempty"`
	ExternalID        string    `json:"externalId,omitempty"`
	ExternalKey       string    `json:"externalKey,omitempty"`
	ExternalURL       string    `json:"externalUrl,omitempty"`
	ProjectID         int64     `json:"projectId"`
	ProjectName       string    `json:"projectName"`
	ProjectSource     string    `json:"projectSource,omitempty"`
	IntegrationID     *int64    `json:"integrationId,omitempty"`
	IntegrationName   string    `json:"integrationName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	CreatorID         string    `json:"creatorId"`
	CreatorName       string    `json:"creatorName"`
	SearchableContent string    `json:"searchableContent"`
}

func (d *IssueDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *IssueDocument) Kind() EntityKind   { return KindIssue }

// SkipReason reports an issue whose owning project could not be resolved.
func (d *IssueDocument) SkipReason() string {
	if d.ProjectID == 0 {
		return "no resolvable project"
	}
	return ""
}

// MilestoneDocument is the index projection of a Milestone.
type MilestoneDocument struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	ProjectID         int64      `json:"projectId"`
	ProjectName       string     `json:"projectName"`
	Note              string     `json:"note"`
	Docs              string     `json:"docs"`
	MilestoneTypeID   *int64     `json:"milestoneTypeId,omitempty"`
	MilestoneTypeName string     `json:"milestoneTypeName,omitempty"`
	MilestoneTypeIcon string     `json:"milestoneTypeIcon,omitempty"`
	ParentID          *int64     `json:"parentId,omitempty"`
	IsStarted         bool       `json:"isStarted"`
	IsCompleted       bool       `json:"isCompleted"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	CreatorID         string     `json:"creatorId"`
	CreatorName       string     `json:"creatorName"`
	SearchableContent string     `json:"searchableContent"`
}

func (d *MilestoneDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *MilestoneDocument) Kind() EntityKind   { return KindMilestone }

// ProjectDocument is the index projection of a Project.
type ProjectDocument struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Note              string     `json:"note"`
	Docs              string     `json:"docs"`
	IconURL           string     `json:"iconUrl,omitempty"`
	IsCompleted       bool       `json:"isCompleted"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CreatorID         string     `json:"creatorId"`
	CreatorName       string     `json:"creatorName"`
	SearchableContent string     `json:"searchableContent"`
}

func (d *ProjectDocument) DocumentID() string { return strconv.FormatInt(d.ID, 10) }
func (d *ProjectDocument) Kind() EntityKind   { return KindProject }

// DocumentID formats an entity id as an index key.
func DocumentID(id int64) string {
	return strconv.FormatInt(id, 10)
}
