package client

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

const profileFetchLimit = 8

// Profiles fetches user documents, collapsing concurrent requests for the
// same id.
type Profiles struct {
	store remote.DocStore
	group singleflight.Group
}

func NewProfiles(store remote.DocStore) *Profiles {
	return &Profiles{store: store}
}

func (p *Profiles) Get(ctx context.Context, uid string) (models.User, error) {
	v, err, _ := p.group.Do(uid, func() (any, error) {
		rec, err := p.store.Get(ctx, remote.Doc(remote.Users, uid))
		if err != nil {
			return models.User{}, err
		}
		return models.DecodeUser(rec)
	})
	if err != nil {
		return models.User{}, err
	}
	return v.(models.User), nil
}

// Resolve fetches every id concurrently. Failures are reported per id and
// never cancel the other fetches.
func (p *Profiles) Resolve(ctx context.Context, ids []string) (map[string]models.User, map[string]error) {
	var mu sync.Mutex
	found := make(map[string]models.User, len(ids))
	failed := map[string]error{}

	var g errgroup.Group
	g.SetLimit(profileFetchLimit)
	for _, id := range ids {
		g.Go(func() error {
			u, err := p.Get(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[id] = errs.Classify(err, "profile "+id)
			} else {
				found[id] = u
			}
			return nil
		})
	}
	_ = g.Wait()
	return found, failed
}
