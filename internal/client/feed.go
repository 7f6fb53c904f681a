package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/sync/errgroup"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// CommentTimeLayout is the display format stored in Comment.CreatedAt.
const CommentTimeLayout = "1/2/2006, 3:04:05 PM"

var postsQuery = remote.Query{Collection: remote.Posts, OrderBy: "createdAt", Descending: true}

// RadiusFilter keeps posts within Radius meters of Origin. Without an
// origin every post is kept.
type RadiusFilter struct {
	Origin *geo.Point
	Radius float64
}

func (f RadiusFilter) Key() string {
	if f.Origin == nil {
		return "all"
	}
	return fmt.Sprintf("radius:%.0f@%s", f.Radius, f.Origin)
}

func (f RadiusFilter) Keep(p models.Post) bool {
	if f.Origin == nil {
		return true
	}
	return geo.Within(*f.Origin, p.Location, f.Radius)
}

func idOfPost(p models.Post) string { return p.ID }

func postReducer(f RadiusFilter) engine.Reducer[models.Post] {
	return engine.Reducer[models.Post]{
		Entity: "post",
		Decode: models.DecodePost,
		Keep:   f.Keep,
		Less:   engine.NewestFirst(func(p models.Post) time.Time { return p.CreatedAt }, idOfPost),
		Equal:  models.Post.Equal,
	}
}

// FeedView is the location-filtered post list.
type FeedView struct {
	c      *Client
	owner  *engine.Owner
	list   *engine.List[models.Post]
	queue  *engine.MutationQueue[models.Post]
	handle *engine.Handle
	filter RadiusFilter
}

func newFeedView(c *Client, origin *geo.Point) *FeedView {
	f := &FeedView{
		c:      c,
		owner:  c.subs.NewOwner("feed"),
		filter: RadiusFilter{Origin: origin, Radius: c.opts.Radius},
	}
	f.list = engine.NewList(postReducer(f.filter), idOfPost)
	f.list.OnRender(func(ps []models.Post) { c.emit(Event{View: ViewFeed, Data: ps}) })
	f.queue = engine.NewMutationQueue(c.loop, f.list, f.owner, c.options()...)
	f.subscribe()
	return f
}

func (f *FeedView) subscribe() {
	f.handle = f.owner.Subscribe(postsQuery, f.filter, f.list.Apply, f.c.notice)
}

func (f *FeedView) Release() { f.owner.Release() }

// setOrigin swaps the radius predicate, which re-keys the subscription.
func (f *FeedView) setOrigin(p *geo.Point) {
	next := RadiusFilter{Origin: p, Radius: f.filter.Radius}
	if next.Key() == f.filter.Key() {
		return
	}
	f.owner.Unsubscribe(f.handle)
	f.filter = next
	f.list.SetReducer(postReducer(next))
	f.subscribe()
}

func (f *FeedView) react(uid, id string, pressed Reaction) (*engine.Pending, models.Post, error) {
	cur, ok := f.list.Get(id)
	if !ok {
		return nil, models.Post{}, errs.NotFound("post %s", id)
	}
	next := Toggle(ReactionOf(cur, uid), pressed)
	return f.queue.ApplyLocal(id, "reaction",
		func(p models.Post) models.Post { return WithReaction(p, uid, next) },
		func(ctx context.Context, _, _ models.Post) error {
			return f.c.deps.Store.Update(ctx, remote.Doc(remote.Posts, id), ReactionOps(uid, next)...)
		})
}

func (f *FeedView) comment(id string, cm models.Comment) (*engine.Pending, error) {
	if _, ok := f.list.Get(id); !ok {
		return nil, errs.NotFound("post %s", id)
	}
	add := func(p models.Post) models.Post {
		for _, x := range p.Comments {
			if x.ID == cm.ID {
				return p
			}
		}
		p.Comments = append(append([]models.Comment(nil), p.Comments...), cm)
		return p
	}
	return f.queue.Apply("comment:"+cm.ID, "comment", engine.MapByID(idOfPost, id, add),
		func(ctx context.Context) error {
			return f.c.deps.Store.Update(ctx, remote.Doc(remote.Posts, id),
				remote.ArrayUnion("comments", models.CommentValue(cm)))
		}), nil
}

// setOrigin must run on the loop.
func (c *Client) setOrigin(p geo.Point) {
	c.origin = &p
	if c.feed != nil {
		c.feed.setOrigin(c.origin)
	}
}

// SetOrigin moves the feed's radius filter to p.
func (c *Client) SetOrigin(ctx context.Context, p geo.Point) error {
	if !p.Valid() {
		return errs.Validation("invalid position %s", p)
	}
	return c.call(ctx, func() error { c.setOrigin(p); return nil })
}

// Feed returns the displayed posts, newest first.
func (c *Client) Feed(ctx context.Context) ([]models.Post, error) {
	var out []models.Post
	err := c.call(ctx, func() error {
		if _, err := c.requireUser(); err != nil {
			return err
		}
		out = c.feed.list.Items()
		return nil
	})
	return out, err
}

// ToggleLike flips the caller's like on a post, clearing a dislike. The
// view changes immediately; the returned error is the remote outcome.
func (c *Client) ToggleLike(ctx context.Context, postID string) (models.Post, error) {
	return c.toggle(ctx, postID, Liked)
}

// ToggleDislike is ToggleLike for the dislike button.
func (c *Client) ToggleDislike(ctx context.Context, postID string) (models.Post, error) {
	return c.toggle(ctx, postID, Disliked)
}

func (c *Client) toggle(ctx context.Context, postID string, pressed Reaction) (models.Post, error) {
	var p *engine.Pending
	var post models.Post
	err := c.call(ctx, func() error {
		u, err := c.requireUser()
		if err != nil {
			return err
		}
		p, post, err = c.feed.react(u.ID, postID, pressed)
		return err
	})
	if err != nil {
		return models.Post{}, err
	}
	return post, p.Wait(ctx)
}

// AddComment appends a comment with a fresh id. Concurrent comments from
// different users never overwrite each other.
func (c *Client) AddComment(ctx context.Context, postID, text string) (models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Comment{}, errs.Validation("comment is empty")
	}
	var p *engine.Pending
	var cm models.Comment
	err := c.call(ctx, func() error {
		u, err := c.requireUser()
		if err != nil {
			return err
		}
		cm = models.Comment{
			ID:        uuid.NewString(),
			Text:      text,
			CreatedAt: time.Now().Format(CommentTimeLayout),
			UserID:    u.ID,
			Username:  u.Username,
		}
		p, err = c.feed.comment(postID, cm)
		return err
	})
	if err != nil {
		return models.Comment{}, err
	}
	return cm, p.Wait(ctx)
}

// CreatePost uploads the images in parallel and writes the post at the
// current position. A post without a position fix is stored without
// coordinates.
func (c *Client) CreatePost(ctx context.Context, caption string, images []Upload) (string, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" || len(images) == 0 {
		return "", errs.Validation("a caption and at least one image are required")
	}
	var u models.User
	if err := c.call(ctx, func() error {
		var err error
		u, err = c.requireUser()
		return err
	}); err != nil {
		return "", err
	}

	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			url, err := c.upload(gctx, "posts", img)
			urls[i] = url
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	post := models.Post{
		CreatedBy: u.Username,
		Caption:   caption,
		ImageURLs: urls,
		CreatedAt: time.Now().UTC(),
	}
	if c.deps.Locator != nil {
		if pos, err := c.deps.Locator.Current(ctx); err == nil {
			post.Location = &pos
		} else {
			jww.WARN.Printf("post without position: %v", err)
		}
	}
	ref := c.deps.Store.NewRef(remote.Posts)
	if err := c.deps.Store.Set(ctx, ref, models.PostDoc(post), false); err != nil {
		return "", errs.Classify(err, "create post")
	}
	jww.INFO.Printf("post %s created by %s", ref.ID, u.ID)
	return ref.ID, nil
}
