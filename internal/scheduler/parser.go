// Package scheduler provides the optional daemon mode of the runner.
// This file wraps robfig/cron for cron expression parsing without running
// robfig's own scheduler.

package scheduler

import (
	"github.com/robfig/cron/v3"
)

// CronParser wraps robfig/cron for schedule-only usage
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser supporting standard 5-field cron with descriptors
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse returns the schedule for a cron expression
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	return p.parser.Parse(expression)
}

// Validate checks if a cron expression is valid
func (p *CronParser) Validate(expression string) error {
	_, err := p.parser.Parse(expression)
	return err
}
