// Package workout implements the documents behind signed workout links:
// completion recording, scoped history deletion, plan editing, the rotation
// schedule and the activity and weekly reports.
package workout

import (
	"time"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/schema"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Layout    Layout
	Validator *schema.Validator
	Now       func() time.Time
	Location  *time.Location
	Logger    Logger
}

// Service runs every workout operation against one document store. It holds
// no per-request state.
type Service struct {
	store     docstore.Store
	layout    Layout
	validator *schema.Validator
	now       func() time.Time
	location  *time.Location
	logger    Logger
}

func NewService(store docstore.Store, opts Options) *Service {
	layout := opts.Layout
	defaults := DefaultLayout()
	if layout.HistoryRoot == "" {
		layout.HistoryRoot = defaults.HistoryRoot
	}
	if layout.StateRoot == "" {
		layout.StateRoot = defaults.StateRoot
	}
	if layout.PlansRoot == "" {
		layout.PlansRoot = defaults.PlansRoot
	}
	if layout.SchedulesRoot == "" {
		layout.SchedulesRoot = defaults.SchedulesRoot
	}
	if layout.SplitsRoot == "" {
		layout.SplitsRoot = defaults.SplitsRoot
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		store:     store,
		layout:    layout,
		validator: opts.Validator,
		now:       now,
		location:  location,
		logger:    opts.Logger,
	}
}

func (s *Service) Layout() Layout {
	return s.layout
}

// Today is the current calendar date in the service's time zone.
func (s *Service) Today() string {
	return s.now().In(s.location).Format(DateLayout)
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Service) validate(kind schema.Kind, doc any) error {
	if s.validator == nil {
		return nil
	}
	return s.validator.Validate(kind, doc)
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
