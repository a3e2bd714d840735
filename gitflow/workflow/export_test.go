package workflow

import "time"

// NewBranchNameForTest exposes newBranchName.
func NewBranchNameForTest(
	filePath string,
	now time.Time,
) string {
	return newBranchName(filePath, now)
}

// RenderTemplateForTest exposes renderTemplate.
var RenderTemplateForTest = renderTemplate
