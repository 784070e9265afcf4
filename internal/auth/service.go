package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"SportsQuizPlatform/internal/directory"
)

const tokenLifetime = 24 * time.Hour

// AuthService authenticates platform users against the directory's users
// collection and issues JWT tokens. Account management itself (registration,
// password resets) lives outside this service.
type AuthService struct {
	users *mongo.Collection
}

// NewAuthService creates the authentication service.
func NewAuthService(db *mongo.Database) *AuthService {
	return &AuthService{users: db.Collection("users")}
}

// Authenticate verifies the credential and returns a signed token.
func (s *AuthService) Authenticate(ctx context.Context, cred Credential) (string, error) {
	var user directory.User
	err := s.users.FindOne(ctx, bson.M{"username": cred.Username}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", errors.New("invalid username or password")
		}
		return "", err
	}
	if user.Status != "active" {
		return "", errors.New("account is not active")
	}
	if !CheckPasswordHash(cred.Password, user.PasswordHash) {
		return "", errors.New("invalid username or password")
	}
	return GenerateJWT(user.ID.Hex(), user.Username, user.Role, user.InstitutionID, tokenLifetime)
}
