package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(TransientRemote, nil))
}

func TestWrapAndUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Wrap(TransientRemote, base)

	require := assert.New(t)
	require.Error(wrapped)
	require.Equal("transient_remote: connection refused", wrapped.Error())
	require.True(errors.Is(wrapped, base))
	require.ErrorIs(wrapped, base)
}

func TestIsMatchesAssignedKind(t *testing.T) {
	err := Wrap(PermanentRemote, errors.New("forbidden"))
	assert.True(t, Is(err, PermanentRemote))
	assert.False(t, Is(err, TransientRemote))
}

func TestIsFalseForUnwrappedError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), LocalIO))
}

func TestKindOfReturnsUnknownForPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestKindOfExtractsAssignedKind(t *testing.T) {
	err := Wrap(ConcurrentTick, errors.New("busy"))
	assert.Equal(t, ConcurrentTick, KindOf(err))
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		Unknown:         "unknown",
		TransientRemote: "transient_remote",
		PermanentRemote: "permanent_remote",
		LocalIO:         "local_io",
		LockContention:  "lock_contention",
		ConcurrentTick:  "concurrent_tick",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
