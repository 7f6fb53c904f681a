package store

import (
	"context"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// DemoPassword is the password of the seeded demo accounts.
const DemoPassword = "password"

type demoPost struct {
	by       string
	caption  string
	dLat     float64
	dLng     float64
	ageHours int
}

// SeedIfEmpty creates two demo accounts with posts around origin and a
// chat between them, unless users already exist.
func (s *Store) SeedIfEmpty(ctx context.Context, accounts *Accounts, origin geo.Point) error {
	if s.Count(remote.Users) > 0 {
		return nil
	}

	ids := map[string]string{}
	for _, name := range []string{"alice", "bob"} {
		uid, err := accounts.Register(name+"@example.com", DemoPassword)
		if err != nil {
			if errs.KindOf(err) == errs.KindAuth {
				jww.WARN.Printf("seed: account %s exists without a profile, skipping seed", name)
				return nil
			}
			return err
		}
		ids[name] = uid
		if _, err := s.UpsertUser(ctx, models.User{
			ID:       uid,
			Username: name,
			Email:    name + "@example.com",
			Avatar:   "/uploads/avatars/" + name + ".png",
		}); err != nil {
			return err
		}
	}

	now := nowUTC()
	seed := []demoPost{
		{by: "bob", caption: "Fixed the rounded corners on the feed cards today", dLat: 0.001, dLng: 0.001, ageHours: 5},
		{by: "alice", caption: "Hi! My first post here", dLat: -0.002, dLng: 0.0015, ageHours: 4},
		{by: "alice", caption: "Sunset from the rooftop", dLat: 0.01, dLng: -0.01, ageHours: 2},
		{by: "bob", caption: "Anyone up for coffee near the station?", dLat: 0.004, dLng: 0.002, ageHours: 1},
		{by: "bob", caption: "Weekend trip, far from home", dLat: 0.5, dLng: 0.5, ageHours: 3},
	}
	for _, p := range seed {
		loc := geo.Point{Lat: origin.Lat + p.dLat, Lng: origin.Lng + p.dLng}
		post := models.Post{
			CreatedBy: p.by,
			Caption:   p.caption,
			ImageURLs: []string{"/uploads/posts/demo.png"},
			CreatedAt: now.Add(-time.Duration(p.ageHours) * time.Hour),
			Location:  &loc,
		}
		if err := s.Set(ctx, s.NewRef(remote.Posts), models.PostDoc(post), false); err != nil {
			return err
		}
	}

	chatRef := s.NewRef(remote.Chats)
	hello := models.Message{ID: newID(), SenderID: ids["bob"], Text: "Welcome aboard!", CreatedAt: now}
	if err := s.Set(ctx, chatRef, map[string]any{
		"createdAt": now,
		"messages":  []any{models.MessageValue(hello)},
	}, false); err != nil {
		return err
	}
	if err := s.Set(ctx, remote.Doc(remote.UserChats, ids["alice"]), models.ChatIndexDoc([]models.ChatEntry{{
		ChatID: chatRef.ID, ReceiverID: ids["bob"], LastMessage: hello.Text, UpdatedAt: now,
	}}), false); err != nil {
		return err
	}
	if err := s.Set(ctx, remote.Doc(remote.UserChats, ids["bob"]), models.ChatIndexDoc([]models.ChatEntry{{
		ChatID: chatRef.ID, ReceiverID: ids["alice"], LastMessage: hello.Text, UpdatedAt: now, IsSeen: true,
	}}), false); err != nil {
		return err
	}
	jww.INFO.Printf("seeded demo users alice and bob (%d posts)", len(seed))
	return nil
}
