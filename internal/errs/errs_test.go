package errs

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOfSentinels(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("caption is required")))
	assert.Equal(t, KindAuth, KindOf(ErrDuplicateUsername))
	assert.Equal(t, KindNotFound, KindOf(NotFound("user %s", "u1")))
	assert.Equal(t, KindNetwork, KindOf(errors.Wrap(context.DeadlineExceeded, "update")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOfGRPCStatus(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(status.Error(codes.NotFound, "no doc")))
	assert.Equal(t, KindNetwork, KindOf(status.Error(codes.Unavailable, "down")))
	assert.Equal(t, KindAuth, KindOf(status.Error(codes.PermissionDenied, "rules")))
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := status.Error(codes.Unavailable, "transport closing")
	err := Classify(cause, "update posts/p1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "update posts/p1")
	assert.True(t, IsRecoverable(err))
}

func TestClassifyUnknownIsNetwork(t *testing.T) {
	err := Classify(errors.New("boom"), "get")
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Nil(t, Classify(nil, "get"))
}

func TestValidationIsNotRecoverable(t *testing.T) {
	assert.False(t, IsRecoverable(Validation("empty text")))
	assert.False(t, IsRecoverable(ErrDuplicateUsername))
}
