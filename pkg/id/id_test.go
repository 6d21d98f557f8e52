package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)

	a := Derive(at, "AAPL", "F1", "F2")
	b := Derive(at, "AAPL", "F1", "F2")
	c := Derive(at, "AAPL", "F1", "F3")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	ts, err := Time(a)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
}

func TestDeriveSortsByTime(t *testing.T) {
	t.Parallel()

	early := Derive(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "z")
	late := Derive(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "a")
	assert.Less(t, early, late)
}

func TestTimeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Time("not-a-ulid")
	assert.Error(t, err)
}
