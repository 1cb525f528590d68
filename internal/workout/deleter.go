package workout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/docstore"
)

type Scope string

const (
	ScopeDay   Scope = "day"
	ScopeMonth Scope = "month"
	ScopeAll   Scope = "all"
)

func ParseScope(raw string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(raw))); scope {
	case ScopeDay, ScopeMonth, ScopeAll:
		return scope, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

type DeleteRequest struct {
	Subject string
	Scope   Scope
	Date    string
	Year    string
	Month   string
}

// Validate checks the fields the scope needs before any store call.
func (r DeleteRequest) Validate() error {
	if err := ValidateSubject(r.Subject); err != nil {
		return err
	}
	switch r.Scope {
	case ScopeDay:
		_, err := ParseDate(r.Date)
		return err
	case ScopeMonth:
		return ValidateYearMonth(r.Year, r.Month)
	case ScopeAll:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, r.Scope)
	}
}

// SignedFields names the query fields a deletion link binds for its scope.
func SignedFields(scope Scope) []string {
	switch scope {
	case ScopeDay:
		return []string{"u", "scope", "d", "ts"}
	case ScopeMonth:
		return []string{"u", "scope", "y", "m", "ts"}
	default:
		return []string{"u", "scope", "ts"}
	}
}

// Params is the signed parameter set for the request, without issuance time.
func (r DeleteRequest) Params() capability.Params {
	params := capability.Params{"u": r.Subject, "scope": string(r.Scope)}
	switch r.Scope {
	case ScopeDay:
		params["d"] = r.Date
	case ScopeMonth:
		params["y"] = r.Year
		params["m"] = r.Month
	}
	return params
}

// Describe is a short human label for the target of the deletion.
func (r DeleteRequest) Describe() string {
	switch r.Scope {
	case ScopeDay:
		return "activity for " + r.Date
	case ScopeMonth:
		return "activity for " + r.Year + "-" + r.Month
	default:
		return "all activity history"
	}
}

type DeleteResult struct {
	Scope   Scope
	Deleted int
	// Absent is set when none of the targeted documents or directories
	// existed.
	Absent bool
}

// Delete removes the subject's history selected by the request scope.
// Missing data deletes nothing and is not an error. For month and all scopes
// a partial walk returns the count removed alongside a
// *docstore.PartialDeleteError.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	if err := req.Validate(); err != nil {
		return DeleteResult{}, err
	}
	result := DeleteResult{Scope: req.Scope, Absent: true}
	switch req.Scope {
	case ScopeDay:
		for _, p := range []string{
			s.layout.UserDayPath(req.Subject, req.Date),
			s.layout.LegacyUserDayPath(req.Subject, req.Date),
		} {
			deleted, err := docstore.DeletePath(ctx, s.store, p)
			if err != nil {
				return result, fmt.Errorf("delete %s: %w", p, err)
			}
			if deleted {
				result.Deleted++
				result.Absent = false
			}
		}
	case ScopeMonth:
		var errs []error
		for _, dir := range []string{
			s.layout.MonthDir(req.Subject, req.Year, req.Month),
			s.layout.LegacyMonthDir(req.Subject, req.Year, req.Month),
		} {
			sub, err := docstore.DeleteSubtree(ctx, s.store, dir)
			result.Deleted += sub.Deleted
			result.Absent = result.Absent && sub.Absent
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return result, errors.Join(errs...)
		}
	case ScopeAll:
		sub, err := docstore.DeleteSubtree(ctx, s.store, s.layout.UserRoot(req.Subject))
		result.Deleted = sub.Deleted
		result.Absent = sub.Absent
		if err != nil {
			return result, err
		}
	}
	s.logf("deleted %d document(s) for %s scope=%s", result.Deleted, req.Subject, req.Scope)
	return result, nil
}
