package directory

import "go.mongodb.org/mongo-driver/bson/primitive"

// User is a platform account as the notification core sees it: identity plus
// the membership fields audience resolution filters on.
type User struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username      string             `bson:"username" json:"username"`
	Email         string             `bson:"email" json:"email"`
	PasswordHash  string             `bson:"password_hash" json:"-"`
	Role          string             `bson:"role" json:"role"` // student, teacher, admin, super_admin
	InstitutionID string             `bson:"institution_id,omitempty" json:"institution_id,omitempty"`
	Status        string             `bson:"status" json:"status"` // active, inactive, suspended
}

// Class is a course roster; only the member ids matter here.
type Class struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name     string             `bson:"name" json:"name"`
	Students []ClassMember      `bson:"students" json:"students"`
}

// ClassMember is one roster entry.
type ClassMember struct {
	UserID string `bson:"user_id" json:"user_id"`
}
