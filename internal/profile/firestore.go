package profile

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const usersCollection = "users"

// FirestoreStore keeps one document per user in the users collection, keyed
// by the identity provider's uid.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore-backed profile store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Fetch returns the user's document data.
func (s *FirestoreStore) Fetch(ctx context.Context, uid string) (map[string]any, error) {
	if uid == "" {
		return nil, errors.New("uid cannot be empty")
	}

	snap, err := s.client.Collection(usersCollection).Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %q: %w", uid, err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return snap.Data(), nil
}

// Upsert merges doc into the user's document, creating it if needed.
func (s *FirestoreStore) Upsert(ctx context.Context, uid string, doc map[string]any) error {
	if uid == "" {
		return errors.New("uid cannot be empty")
	}

	_, err := s.client.Collection(usersCollection).Doc(uid).Set(ctx, doc, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("set profile %q: %w", uid, err)
	}
	return nil
}
