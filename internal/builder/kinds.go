package builder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/testplanit/searchsync/internal/customfield"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/richtext"
	"github.com/testplanit/searchsync/internal/store"
)

// BuildRepositoryCase builds a repository case document, expanding steps that
// reference shared step groups into one entry per group item.
func (b *Builder) BuildRepositoryCase(ctx context.Context, c *domain.RepositoryCase) (*domain.RepositoryCaseDocument, error) {
	folderPath, err := b.FolderPath(ctx, c.FolderID)
	if err != nil {
		return nil, err
	}
	steps, err := b.expandSteps(ctx, c)
	if err != nil {
		return nil, err
	}
	tags := tagDocuments(c.Tags)
	fields := b.customFields(domain.KindRepositoryCase, c.ID, c.CustomFields)

	stepText := make([]string, 0, len(steps)*2)
	for _, s := range steps {
		stepText = append(stepText, s.Step, s.ExpectedResult)
	}

	return &domain.RepositoryCaseDocument{
		ID:                c.ID,
		ProjectID:         c.ProjectID,
		ProjectName:       c.Project.Name,
		RepositoryID:      c.RepositoryID,
		FolderID:          c.FolderID,
		FolderPath:        folderPath,
		Name:              c.Name,
		ClassName:         c.ClassName,
		Source:            c.Source,
		StateID:           c.State.ID,
		StateName:         c.State.Name,
		StateIcon:         c.State.Icon,
		StateColor:        c.State.IconColor,
		TemplateID:        c.Template.ID,
		TemplateName:      c.Template.Name,
		Estimate:          c.Estimate,
		Automated:         c.Automated,
		IsArchived:        c.IsArchived,
		CreatedAt:         c.CreatedAt,
		CreatorID:         c.Creator.ID,
		CreatorName:       c.Creator.Name,
		Tags:              tags,
		Steps:             steps,
		CustomFields:      fields,
		SearchableContent: searchable([]string{c.Name, c.ClassName}, tagNames(tags), stepText, customfield.SearchText(fields)),
	}, nil
}

func (b *Builder) expandSteps(ctx context.Context, c *domain.RepositoryCase) ([]domain.StepDocument, error) {
	ordered := make([]domain.Step, 0, len(c.Steps))
	for _, s := range c.Steps {
		if !s.IsDeleted {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	out := make([]domain.StepDocument, 0, len(ordered))
	for _, s := range ordered {
		if s.SharedStepGroupID == nil {
			out = append(out, domain.StepDocument{
				ID:             s.ID,
				Order:          len(out),
				Step:           richtext.FromJSON(s.Step),
				ExpectedResult: richtext.FromJSON(s.ExpectedResult),
			})
			continue
		}

		groupID := *s.SharedStepGroupID
		group, err := b.sharedStepGroup(ctx, groupID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && group.IsDeleted) {
			b.logger.Warn("Shared step group missing, step omitted",
				"entity_kind", domain.KindRepositoryCase, "entity_id", c.ID,
				"step_id", s.ID, "shared_step_group_id", groupID, "reason", "shared_step_group_missing")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load shared step group %d: %w", groupID, err)
		}

		items := make([]domain.SharedStepItem, len(group.Items))
		copy(items, group.Items)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
		for i, item := range items {
			gid := groupID
			out = append(out, domain.StepDocument{
				ID:                  s.ID*SharedStepIDFactor + int64(i),
				Order:               len(out),
				Step:                richtext.FromJSON(item.Step),
				ExpectedResult:      richtext.FromJSON(item.ExpectedResult),
				IsSharedStep:        true,
				SharedStepGroupID:   &gid,
				SharedStepGroupName: group.Name,
			})
		}
	}
	return out, nil
}

// BuildSharedStepGroup builds a shared step group document.
func (b *Builder) BuildSharedStepGroup(_ context.Context, g *domain.SharedStepGroup) (*domain.SharedStepDocument, error) {
	items := make([]domain.SharedStepItemDocument, 0, len(g.Items))
	text := []string{g.Name}
	for _, item := range g.Items {
		doc := domain.SharedStepItemDocument{
			ID:             item.ID,
			Order:          item.Order,
			Step:           richtext.FromJSON(item.Step),
			ExpectedResult: richtext.FromJSON(item.ExpectedResult),
		}
		items = append(items, doc)
		text = append(text, doc.Step, doc.ExpectedResult)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })

	return &domain.SharedStepDocument{
		ID:                g.ID,
		Name:              g.Name,
		ProjectID:         g.ProjectID,
		ProjectName:       g.Project.Name,
		CreatedAt:         g.CreatedAt,
		CreatorID:         g.Creator.ID,
		CreatorName:       g.Creator.Name,
		Items:             items,
		SearchableContent: richtext.Join(text...),
	}, nil
}

// BuildTestRun builds a test run document.
func (b *Builder) BuildTestRun(_ context.Context, r *domain.TestRun) (*domain.TestRunDocument, error) {
	tags := tagDocuments(r.Tags)
	note := richtext.FromJSON(r.Note)
	docs := richtext.FromJSON(r.Docs)
	configID, configName := named(r.Configuration)
	milestoneID, milestoneName := named(r.Milestone)

	return &domain.TestRunDocument{
		ID:                r.ID,
		Name:              r.Name,
		ProjectID:         r.ProjectID,
		ProjectName:       r.Project.Name,
		Note:              note,
		Docs:              docs,
		TestRunType:       r.TestRunType,
		StateID:           r.State.ID,
		StateName:         r.State.Name,
		StateIcon:         r.State.Icon,
		StateColor:        r.State.IconColor,
		ConfigurationID:   configID,
		ConfigurationName: configName,
		MilestoneID:       milestoneID,
		MilestoneName:     milestoneName,
		IsCompleted:       r.IsCompleted,
		Elapsed:           r.Elapsed,
		CreatedAt:         r.CreatedAt,
		CompletedAt:       r.CompletedAt,
		CreatorID:         r.Creator.ID,
		CreatorName:       r.Creator.Name,
		Tags:              tags,
		SearchableContent: searchable([]string{r.Name, note, docs}, tagNames(tags)),
	}, nil
}

// BuildSession builds a session document.
func (b *Builder) BuildSession(_ context.Context, s *domain.Session) (*domain.SessionDocument, error) {
	tags := tagDocuments(s.Tags)
	fields := b.customFields(domain.KindSession, s.ID, s.CustomFields)
	note := richtext.FromJSON(s.Note)
	mission := richtext.FromJSON(s.Mission)
	configID, configName := named(s.Configuration)
	milestoneID, milestoneName := named(s.Milestone)

	doc := &domain.SessionDocument{
		ID:                s.ID,
		Name:              s.Name,
		ProjectID:         s.ProjectID,
		ProjectName:       s.Project.Name,
		Note:              note,
		Mission:           mission,
		StateID:           s.State.ID,
		StateName:         s.State.Name,
		StateIcon:         s.State.Icon,
		StateColor:        s.State.IconColor,
		TemplateID:        s.Template.ID,
		TemplateName:      s.Template.Name,
		ConfigurationID:   configID,
		ConfigurationName: configName,
		MilestoneID:       milestoneID,
		MilestoneName:     milestoneName,
		Estimate:          s.Estimate,
		Elapsed:           s.Elapsed,
		IsCompleted:       s.IsCompleted,
		CreatedAt:         s.CreatedAt,
		CompletedAt:       s.CompletedAt,
		CreatorID:         s.Creator.ID,
		CreatorName:       s.Creator.Name,
		Tags:              tags,
		CustomFields:      fields,
	}
	if s.Assignee != nil {
		doc.AssignedToID = s.Assignee.ID
		doc.AssignedToName = s.Assignee.Name
	}

	doc.SearchableContent = searchable([]string{s.Name, note, mission}, tagNames(tags), customfield.SearchText(fields))
	return doc, nil
}

// BuildIssue builds an issue document. When no owning project can be
// resolved the document is returned with a SkipReason and must not be indexed.
func (b *Builder) BuildIssue(ctx context.Context, i *domain.Issue) (*domain.IssueDocument, error) {
	description := richtext.FromJSON(i.Description)
	integrationID, integrationName := named(i.Integration)
	doc := &domain.IssueDocument{
		ID:                i.ID,
		Name:              i.Name,
		Title:             i.Title,
		Description:       description,
		Status:            i.Status,
		Priority:          i.Priority,
		ExternalID:        i.ExternalID,
		ExternalKey:       i.ExternalKey,
		ExternalURL:       i.ExternalURL,
		IntegrationID:     integrationID,
		IntegrationName:   integrationName,
		CreatedAt:         i.CreatedAt,
		CreatorID:         i.Creator.ID,
		CreatorName:       i.Creator.Name,
		SearchableContent: richtext.Join(i.Name, i.Title, description, i.ExternalKey),
	}

	project, source := i.ResolveProject()
	if project == nil {
		b.logger.Warn("Issue has no resolvable project, not indexing",
			"entity_kind", domain.KindIssue, "entity_id", i.ID, "reason", "issue_orphaned")
		return doc, nil
	}
	doc.ProjectID = project.ID
	doc.ProjectName = project.Name
	doc.ProjectSource = source

	if doc.ProjectName == "" {
		p, err := store.Getter[*domain.Project](ctx, b.reader, domain.KindProject, project.ID)
		switch {
		case err == nil:
			doc.ProjectName = p.Name
		case errors.Is(err, store.ErrNotFound):
			b.logger.Warn("Issue project not found, indexing without project name",
				"entity_kind", domain.KindIssue, "entity_id", i.ID, "project_id", project.ID, "reason", "project_missing")
		default:
			return nil, fmt.Errorf("load project %d: %w", project.ID, err)
		}
	}
	return doc, nil
}

// BuildMilestone builds a milestone document.
func (b *Builder) BuildMilestone(_ context.Context, m *domain.Milestone) (*domain.MilestoneDocument, error) {
	note := richtext.FromJSON(m.Note)
	docs := richtext.FromJSON(m.Docs)
	doc := &domain.MilestoneDocument{
		ID:                m.ID,
		Name:              m.Name,
		ProjectID:         m.ProjectID,
		ProjectName:       m.Project.Name,
		Note:              note,
		Docs:              docs,
		ParentID:          m.ParentID,
		IsStarted:         m.IsStarted,
		IsCompleted:       m.IsCompleted,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		CreatedAt:         m.CreatedAt,
		CreatorID:         m.Creator.ID,
		CreatorName:       m.Creator.Name,
		SearchableContent: richtext.Join(m.Name, note, docs),
	}
	if t := m.MilestoneType; t != nil {
		id := t.ID
		doc.MilestoneTypeID = &id
		doc.MilestoneTypeName = t.Name
		doc.MilestoneTypeIcon = t.Icon
	}
	return doc, nil
}

// BuildProject builds a project document.
func (b *Builder) BuildProject(_ context.Context, p *domain.Project) (*domain.ProjectDocument, error) {
	note := richtext.FromJSON(p.Note)
	docs := richtext.FromJSON(p.Docs)
	return &domain.ProjectDocument{
		ID:                p.ID,
		Name:              p.Name,
		Note:              note,
		Docs:              docs,
		IconURL:           p.IconURL,
		IsCompleted:       p.IsCompleted,
		CreatedAt:         p.CreatedAt,
		CompletedAt:       p.CompletedAt,
		CreatorID:         p.Creator.ID,
		CreatorName:       p.Creator.Name,
		SearchableContent: richtext.Join(p.Name, note, docs),
	}, nil
}
