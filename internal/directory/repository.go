package directory

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Directory resolves role/institution/class membership into user identities.
// The notification core depends on this interface only.
type Directory interface {
	ActiveUsers(ctx context.Context) ([]*User, error)
	ActiveUsersByRoles(ctx context.Context, roles []string) ([]*User, error)
	ActiveUsersByInstitutions(ctx context.Context, institutionIDs []string) ([]*User, error)
	ActiveUsersByIDs(ctx context.Context, userIDs []string) ([]*User, error)
	ActiveUsersByConditions(ctx context.Context, conditions map[string]interface{}) ([]*User, error)
	ClassMemberIDs(ctx context.Context, classIDs []string) ([]string, error)
}

// Repository is the MongoDB-backed directory over the platform's users and
// classes collections.
type Repository struct {
	users   *mongo.Collection
	classes *mongo.Collection
}

// NewRepository creates a new directory repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		users:   db.Collection("users"),
		classes: db.Collection("classes"),
	}
}

func (r *Repository) findUsers(ctx context.Context, filter bson.M) ([]*User, error) {
	filter["status"] = "active"
	cursor, err := r.users.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ActiveUsers returns every active user.
func (r *Repository) ActiveUsers(ctx context.Context) ([]*User, error) {
	return r.findUsers(ctx, bson.M{})
}

// ActiveUsersByRoles returns active users whose role is in roles.
func (r *Repository) ActiveUsersByRoles(ctx context.Context, roles []string) ([]*User, error) {
	return r.findUsers(ctx, bson.M{"role": bson.M{"$in": roles}})
}

// ActiveUsersByInstitutions returns active users belonging to any of the
// given institutions.
func (r *Repository) ActiveUsersByInstitutions(ctx context.Context, institutionIDs []string) ([]*User, error) {
	return r.findUsers(ctx, bson.M{"institution_id": bson.M{"$in": institutionIDs}})
}

// ActiveUsersByIDs returns the active users among the given ids. Ids that do
// not parse as ObjectIDs are skipped.
func (r *Repository) ActiveUsersByIDs(ctx context.Context, userIDs []string) ([]*User, error) {
	oids := make([]primitive.ObjectID, 0, len(userIDs))
	for _, id := range userIDs {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil, nil
	}
	return r.findUsers(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

// ActiveUsersByConditions runs an arbitrary caller-supplied query against the
// users collection. Trusted input from privileged callers only.
func (r *Repository) ActiveUsersByConditions(ctx context.Context, conditions map[string]interface{}) ([]*User, error) {
	filter := bson.M{}
	for k, v := range conditions {
		filter[k] = v
	}
	return r.findUsers(ctx, filter)
}

// ClassMemberIDs flattens the rosters of the given classes into a single
// member id list. Duplicates across classes are kept; callers dedupe.
func (r *Repository) ClassMemberIDs(ctx context.Context, classIDs []string) ([]string, error) {
	oids := make([]primitive.ObjectID, 0, len(classIDs))
	for _, id := range classIDs {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil, nil
	}
	cursor, err := r.classes.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	var classes []*Class
	if err := cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	var memberIDs []string
	for _, class := range classes {
		for _, member := range class.Students {
			memberIDs = append(memberIDs, member.UserID)
		}
	}
	return memberIDs, nil
}
