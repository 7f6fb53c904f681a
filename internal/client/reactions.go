package client

import (
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// Reaction is one user's stance on a post. A user is never in both the
// likers and the dislikers set.
type Reaction int

const (
	NoReaction Reaction = iota
	Liked
	Disliked
)

func (r Reaction) String() string {
	switch r {
	case Liked:
		return "liked"
	case Disliked:
		return "disliked"
	default:
		return "none"
	}
}

func ReactionOf(p models.Post, uid string) Reaction {
	switch {
	case p.LikedBy(uid):
		return Liked
	case p.DislikedBy(uid):
		return Disliked
	default:
		return NoReaction
	}
}

// Toggle returns the reaction after pressing the given button.
func Toggle(current, pressed Reaction) Reaction {
	if current == pressed {
		return NoReaction
	}
	return pressed
}

// WithReaction sets uid's reaction on p. It is idempotent and does not
// modify p's slices.
func WithReaction(p models.Post, uid string, r Reaction) models.Post {
	p.Likes = without(p.Likes, uid)
	p.Dislikes = without(p.Dislikes, uid)
	switch r {
	case Liked:
		p.Likes = append(p.Likes, uid)
	case Disliked:
		p.Dislikes = append(p.Dislikes, uid)
	}
	return p
}

// ReactionOps is the single atomic update that moves uid to r.
func ReactionOps(uid string, r Reaction) []remote.FieldOp {
	switch r {
	case Liked:
		return []remote.FieldOp{remote.ArrayUnion("likes", uid), remote.ArrayRemove("dislikes", uid)}
	case Disliked:
		return []remote.FieldOp{remote.ArrayUnion("dislikes", uid), remote.ArrayRemove("likes", uid)}
	default:
		return []remote.FieldOp{remote.ArrayRemove("likes", uid), remote.ArrayRemove("dislikes", uid)}
	}
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
