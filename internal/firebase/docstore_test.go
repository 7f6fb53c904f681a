package firebase

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

func TestToUpdates(t *testing.T) {
	ups := toUpdates([]remote.FieldOp{
		remote.ArrayUnion("likes", "u1"),
		remote.ArrayRemove("dislikes", "u1"),
		remote.ServerTime("updatedAt"),
		remote.DeleteField("draft"),
		remote.SetField("caption", "hi"),
	})
	assert.Equal(t, []firestore.Update{
		{Path: "likes", Value: firestore.ArrayUnion("u1")},
		{Path: "dislikes", Value: firestore.ArrayRemove("u1")},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
		{Path: "draft", Value: firestore.Delete},
		{Path: "caption", Value: "hi"},
	}, ups)
}

func TestPermanentListenErrors(t *testing.T) {
	assert.True(t, permanent(status.Error(codes.PermissionDenied, "rules")))
	assert.True(t, permanent(errors.Wrap(status.Error(codes.NotFound, "gone"), "listen")))
	assert.True(t, permanent(errs.Validation("bad target")))
	assert.False(t, permanent(status.Error(codes.Unavailable, "down")))
	assert.False(t, permanent(errors.New("eof")))
}
