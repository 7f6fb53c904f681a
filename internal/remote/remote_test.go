package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryKeyIsOrderIndependent(t *testing.T) {
	a := Query{Collection: Users}.Where("isOnline", "==", true).Where("blocked", "==", false)
	b := Query{Collection: Users}.Where("blocked", "==", false).Where("isOnline", "==", true)
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Query{Collection: Users}.Key())
}

func TestWhereDoesNotAlias(t *testing.T) {
	base := Query{Collection: Posts, Filters: make([]Filter, 0, 4)}
	a := base.Where("a", "==", 1)
	b := base.Where("b", "==", 2)
	assert.Equal(t, "a", a.Filters[0].Field)
	assert.Equal(t, "b", b.Filters[0].Field)
}

func TestRefKey(t *testing.T) {
	r := Doc(UserChats, "u1")
	assert.Equal(t, "userchats/u1", r.Path())
	assert.Equal(t, "doc:userchats/u1", r.Key())
}
