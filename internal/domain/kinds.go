package domain

import (
	"errors"
	"fmt"
	"strings"
)

// EntityKind identifies one family of synchronized source entities.
// Each kind owns exactly one search index.
type EntityKind string

const (
	KindRepositoryCase EntityKind = "repository_case"
	KindSharedStep     EntityKind = "shared_step"
	KindTestRun        EntityKind = "test_run"
	KindSession        EntityKind = "session"
	KindIssue          EntityKind = "issue"
	KindMilestone      EntityKind = "milestone"
	KindProject        EntityKind = "project"
)

// SelectAll is the reindex selector covering every entity kind.
const SelectAll = "all"

// ErrUnknownEntityKind is returned when a kind string does not name a synchronized entity.
var ErrUnknownEntityKind = errors.New("unknown entity kind")

var allKinds = []EntityKind{
	KindRepositoryCase,
	KindSharedStep,
	KindTestRun,
	KindSession,
	KindIssue,
	KindMilestone,
	KindProject,
}

// AllKinds returns every entity kind in reindex order.
func AllKinds() []EntityKind {
	out := make([]EntityKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseEntityKind converts a kind string into an EntityKind.
// Both snake_case and the camelCase names used by job payloads are accepted.
func ParseEntityKind(s string) (EntityKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "repository_case", "repositorycase", "repositorycases", "repository_cases":
		return KindRepositoryCase, nil
	case "shared_step", "sharedstep", "sharedsteps", "shared_steps", "shared_step_group":
		return KindSharedStep, nil
	case "test_run", "testrun", "testruns", "test_runs":
		return KindTestRun, nil
	case "session", "sessions":
		return KindSession, nil
	case "issue", "issues":
		return KindIssue, nil
	case "milestone", "milestones":
		return KindMilestone, nil
	case "project", "projects":
		return KindProject, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, s)
}

// SelectKinds resolves a reindex selector ("all", empty, or a single kind).
func SelectKinds(selector string) ([]EntityKind, error) {
	if selector == "" || strings.EqualFold(selector, SelectAll) {
		return AllKinds(), nil
	}
	kind, err := ParseEntityKind(selector)
	if err != nil {
		return nil, err
	}
	return []EntityKind{kind}, nil
}

// Label returns a human-readable plural label for job log lines.
func (k EntityKind) Label() string {
	switch k {
	case KindRepositoryCase:
		return "repository cases"
	case KindSharedStep:
		return "shared steps"
	case KindTestRun:
		return "test runs"
	case KindSession:
		return "sessions"
	case KindIssue:
		return "issues"
	case KindMilestone:
		return "milestones"
	case KindProject:
		return "projects"
	}
	return string(k)
}

// Valid reports whether k is one of the declared kinds.
func (k EntityKind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}
