package notification

import (
	"context"
	"fmt"

	"SportsQuizPlatform/internal/directory"
)

// ResolvedUser is one concrete audience member.
type ResolvedUser struct {
	ID       string
	Username string
	Email    string
}

// Resolver turns a target-audience specification into a concrete,
// deduplicated recipient set. Resolution is a snapshot: later membership
// changes never affect an already-created notification.
type Resolver struct {
	dir directory.Directory
}

// NewResolver creates an audience resolver over the given directory.
func NewResolver(dir directory.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the deduplicated active users matched by the audience. An
// empty result is valid; callers decide what a zero-recipient notification
// means.
func (r *Resolver) Resolve(ctx context.Context, audience TargetAudience) ([]ResolvedUser, error) {
	var users []*directory.User
	var err error

	switch audience.Type {
	case AudienceAll:
		users, err = r.dir.ActiveUsers(ctx)
	case AudienceRole:
		if len(audience.Criteria.Roles) > 0 {
			users, err = r.dir.ActiveUsersByRoles(ctx, audience.Criteria.Roles)
		}
	case AudienceInstitution:
		if len(audience.Criteria.InstitutionIDs) > 0 {
			users, err = r.dir.ActiveUsersByInstitutions(ctx, audience.Criteria.InstitutionIDs)
		}
	case AudienceClass:
		if len(audience.Criteria.ClassIDs) > 0 {
			var memberIDs []string
			memberIDs, err = r.dir.ClassMemberIDs(ctx, audience.Criteria.ClassIDs)
			if err == nil && len(memberIDs) > 0 {
				users, err = r.dir.ActiveUsersByIDs(ctx, memberIDs)
			}
		}
	case AudienceUser:
		if len(audience.Criteria.UserIDs) > 0 {
			users, err = r.dir.ActiveUsersByIDs(ctx, audience.Criteria.UserIDs)
		}
	case AudienceCustom:
		if audience.Criteria.Conditions != nil {
			users, err = r.dir.ActiveUsersByConditions(ctx, audience.Criteria.Conditions)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAudience, audience.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve audience %q: %w", audience.Type, err)
	}

	seen := make(map[string]bool, len(users))
	resolved := make([]ResolvedUser, 0, len(users))
	for _, u := range users {
		id := u.ID.Hex()
		if seen[id] {
			continue
		}
		seen[id] = true
		resolved = append(resolved, ResolvedUser{ID: id, Username: u.Username, Email: u.Email})
	}
	return resolved, nil
}
