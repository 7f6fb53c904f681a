package store

import (
	"context"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// GetUser reads users/{uid}.
func (s *Store) GetUser(ctx context.Context, uid string) (models.User, error) {
	rec, err := s.Get(ctx, remote.Doc(remote.Users, uid))
	if err != nil {
		return models.User{}, err
	}
	return models.DecodeUser(rec)
}

// UpsertUser creates users/{u.ID} or overwrites only the fields u sets.
func (s *Store) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		return u, nil
	}
	ex, err := s.GetUser(ctx, u.ID)
	if err != nil {
		if errs.KindOf(err) != errs.KindNotFound {
			return u, err
		}
		if err := s.Set(ctx, remote.Doc(remote.Users, u.ID), models.UserDoc(u), false); err != nil {
			return u, err
		}
		return u, nil
	}

	if u.Username != "" {
		ex.Username = u.Username
	}
	if u.Email != "" {
		ex.Email = u.Email
	}
	if u.Avatar != "" {
		ex.Avatar = u.Avatar
	}
	if u.Blocked != nil {
		ex.Blocked = u.Blocked
	}
	// isOnline is not a pointer, so it is always overwritten
	ex.IsOnline = u.IsOnline

	if err := s.Set(ctx, remote.Doc(remote.Users, u.ID), models.UserDoc(ex), true); err != nil {
		return ex, err
	}
	return ex, nil
}
