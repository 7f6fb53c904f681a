package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

func TestToggle(t *testing.T) {
	assert.Equal(t, Liked, Toggle(NoReaction, Liked))
	assert.Equal(t, NoReaction, Toggle(Liked, Liked))
	assert.Equal(t, Disliked, Toggle(Liked, Disliked))
	assert.Equal(t, Liked, Toggle(Disliked, Liked))
}

func TestWithReactionIsIdempotentAndCopies(t *testing.T) {
	p := models.Post{ID: "p1", Likes: []string{"a"}, Dislikes: []string{"u"}}
	once := WithReaction(p, "u", Liked)
	twice := WithReaction(once, "u", Liked)
	assert.Equal(t, once, twice)
	assert.ElementsMatch(t, []string{"a", "u"}, once.Likes)
	assert.Empty(t, once.Dislikes)
	assert.Equal(t, []string{"u"}, p.Dislikes, "input untouched")
	assert.Equal(t, Liked, ReactionOf(once, "u"))
	assert.Equal(t, NoReaction, ReactionOf(WithReaction(once, "u", NoReaction), "u"))
}

func TestReactionOpsTouchBothArrays(t *testing.T) {
	ops := ReactionOps("u", Disliked)
	assert.Len(t, ops, 2)
	kinds := map[string]remote.OpKind{}
	for _, op := range ops {
		kinds[op.Path] = op.Kind
	}
	assert.Equal(t, remote.OpArrayUnion, kinds["dislikes"])
	assert.Equal(t, remote.OpArrayRemove, kinds["likes"])
}
