package svnerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndIs(t *testing.T) {
	err := New(KindPathNotFound, "no such path: /trunk/missing.txt")
	assert.True(t, Is(err, KindPathNotFound))
	assert.False(t, Is(err, KindOutOfDate))
	assert.Equal(t, KindPathNotFound, KindOf(err))
}

func TestWrapPreservesKindChain(t *testing.T) {
	base := New(KindConnectionFailed, "dial tcp: refused")
	wrapped := Wrap(base, KindRequestFailed, "REPORT failed")
	assert.True(t, Is(wrapped, KindRequestFailed))
	assert.True(t, Is(wrapped, KindConnectionFailed))
}

func TestChainKeepsOriginalKind(t *testing.T) {
	original := New(KindOutOfDate, "delete of stale.c rejected with 409")
	cleanup := New(KindRequestFailed, "DELETE activity failed with 500")
	chained := Chain(original, cleanup)
	assert.Equal(t, KindOutOfDate, KindOf(chained))
	assert.Contains(t, chained.Error(), "out-of-date")
}

func TestChainNilCases(t *testing.T) {
	assert.Nil(t, Chain(nil, nil))
	orig := New(KindBadURL, "x")
	assert.Equal(t, orig, Chain(orig, nil))
	cleanup := New(KindBadURL, "y")
	assert.Equal(t, cleanup, Chain(nil, cleanup))
}
