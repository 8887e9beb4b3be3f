package printer

import "github.com/slok/agentbox/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintList(tasks []model.Task) error
	PrintStatus(task model.Task) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
