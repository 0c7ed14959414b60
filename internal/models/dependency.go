package models

// DependencyType describes the strength of a relationship between two
// pipelines.
type DependencyType string

const (
	DependencyHard        DependencyType = "HARD"
	DependencySoft        DependencyType = "SOFT"
	DependencyConditional DependencyType = "CONDITIONAL"
)

// PipelineDependency declares that a child pipeline's cron trigger should
// only fire once its parent pipeline's last run satisfies the dependency
// type.
type PipelineDependency struct {
	ParentPipelineID string         `json:"parentPipelineId" gorm:"primaryKey;size:100"`
	ChildPipelineID  string         `json:"childPipelineId" gorm:"primaryKey;size:100"`
	Type             DependencyType `json:"type" gorm:"type:varchar(20);not null;default:'HARD'"`
}

func (PipelineDependency) TableName() string { return "pipeline_dependencies" }

// Satisfied reports whether lastParentStatus satisfies this dependency.
func (d PipelineDependency) Satisfied(lastParentStatus JobStatus) bool {
	switch d.Type {
	case DependencyHard:
		return lastParentStatus == StatusCompleted
	case DependencySoft:
		return lastParentStatus.Terminal() || lastParentStatus == StatusFailed
	case DependencyConditional:
		return lastParentStatus == StatusCompleted || lastParentStatus == StatusFailed
	default:
		return false
	}
}
