package schema

import (
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/search"
)

var (
	long      = search.Field{Type: search.TypeLong}
	double    = search.Field{Type: search.TypeDouble}
	boolean   = search.Field{Type: search.TypeBoolean}
	date      = search.Field{Type: search.TypeDate}
	keyword   = search.Field{Type: search.TypeKeyword}
	text      = search.Field{Type: search.TypeText}
	textExact = search.Field{Type: search.TypeText, Fields: map[string]search.Field{"keyword": keyword}}
	// nameField backs exact sort, full-text and type-ahead on entity names.
	nameField = search.Field{
		Type: search.TypeText,
		Fields: map[string]search.Field{
			"keyword": keyword,
			"suggest": {Type: search.TypeSearchAsYouType},
		},
	}
)

func nested(props map[string]search.Field) search.Field {
	return search.Field{Type: search.TypeNested, Properties: props}
}

var tagsField = nested(map[string]search.Field{
	"id":   long,
	"name": textExact,
})

var customFieldsField = nested(map[string]search.Field{
	"fieldId":      long,
	"fieldName":    keyword,
	"fieldType":    keyword,
	"value":        text,
	"valueKeyword": keyword,
	"valueNumeric": double,
	"valueBoolean": boolean,
	"valueDate":    date,
	"valueArray":   keyword,
	"options": nested(map[string]search.Field{
		"id":        long,
		"name":      textExact,
		"icon":      keyword,
		"iconColor": keyword,
	}),
})

var stepsField = nested(map[string]search.Field{
	"id":                  long,
	"order":               long,
	"step":                text,
	"expectedResult":      text,
	"isSharedStep":        boolean,
	"sharedStepGroupId":   long,
	"sharedStepGroupName": textExact,
})

// base returns the fields every document carries.
func base() map[string]search.Field {
	return map[string]search.Field{
		domain.FieldID:                long,
		domain.FieldName:              nameField,
		domain.FieldCreatedAt:         date,
		domain.FieldCreatorID:         keyword,
		domain.FieldCreatorName:       textExact,
		domain.FieldSearchableContent: text,
	}
}

func projectScoped() map[string]search.Field {
	m := base()
	m[domain.FieldProjectID] = long
	m[domain.FieldProjectName] = textExact
	return m
}

func with(m map[string]search.Field, extra map[string]search.Field) map[string]search.Field {
	for k, v := range extra {
		m[k] = v
	}
	return m
}

var workflowFields = map[string]search.Field{
	"stateId":    long,
	"stateName":  textExact,
	"stateIcon":  keyword,
	"stateColor": keyword,
}

func mappingFor(kind domain.EntityKind) map[string]search.Field {
	switch kind {
	case domain.KindRepositoryCase:
		m := with(projectScoped(), workflowFields)
		return with(m, map[string]search.Field{
			"repositoryId":           long,
			"folderId":               long,
			domain.FieldFolderPath:   keyword,
			"className":              textExact,
			"source":                 keyword,
			"templateId":             long,
			"templateName":           textExact,
			"estimate":               long,
			"automated":              boolean,
			"isArchived":             boolean,
			domain.FieldTags:         tagsField,
			domain.FieldSteps:        stepsField,
			domain.FieldCustomFields: customFieldsField,
		})
	case domain.KindSharedStep:
		return with(projectScoped(), map[string]search.Field{
			"items": nested(map[string]search.Field{
				"id":             long,
				"order":          long,
				"step":           text,
				"expectedResult": text,
			}),
		})
	case domain.KindTestRun:
		m := with(projectScoped(), workflowFields)
		return with(m, map[string]search.Field{
			"note":              text,
			"docs":              text,
			"testRunType":       keyword,
			"configurationId":   long,
			"configurationName": textExact,
			"milestoneId":       long,
			"milestoneName":     textExact,
			"isCompleted":       boolean,
			"elapsed":           long,
			"completedAt":       date,
			domain.FieldTags:    tagsField,
		})
	case domain.KindSession:
		m := with(projectScoped(), workflowFields)
		return with(m, map[string]search.Field{
			"note":                   text,
			"mission":                text,
			"templateId":             long,
			"templateName":           textExact,
			"configurationId":        long,
			"configurationName":      textExact,
			"milestoneId":            long,
			"milestoneName":          textExact,
			"assignedToId":           keyword,
			"assignedToName":         textExact,
			"estimate":               long,
			"elapsed":                long,
			"isCompleted":            boolean,
			"completedAt":            date,
			domain.FieldTags:         tagsField,
			domain.FieldCustomFields: customFieldsField,
		})
	case domain.KindIssue:
		return with(projectScoped(), map[string]search.Field{
			"title":           textExact,
			"description":     text,
			"status":          keyword,
			"priority":        keyword,
			"externalId":      keyword,
			"externalKey":     keyword,
			"externalUrl":     keyword,
			"projectSource":   keyword,
			"integrationId":   long,
			"integrationName": textExact,
		})
	case domain.KindMilestone:
		return with(projectScoped(), map[string]search.Field{
			"note":              text,
			"docs":              text,
			"milestoneTypeId":   long,
			"milestoneTypeName": textExact,
			"milestoneTypeIcon": keyword,
			"parentId":          long,
			"isStarted":         boolean,
			"isCompleted":       boolean,
			"startedAt":         date,
			"completedAt":       date,
		})
	case domain.KindProject:
		return with(base(), map[string]search.Field{
			"note":        text,
			"docs":        text,
			"iconUrl":     keyword,
			"isCompleted": boolean,
			"completedAt": date,
		})
	}
	return nil
}
