package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfraSecConsult/dnscap-go/internal/testutil"
)

func TestRecorder_KeepsNewestAndForwards(t *testing.T) {
	next := &testutil.MockSink{}
	r := NewRecorder(next, 2)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	ctx := context.Background()
	r.Handle(ctx, query("one.example"))
	r.Handle(ctx, query("two.example", "three.example"))
	r.Handle(ctx, response("answer.example"))

	recent := r.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, RecentQuery{Name: "three.example", Type: "A", Seen: fixed}, recent[0])
	assert.Equal(t, "two.example", recent[1].Name)

	assert.Equal(t, []string{"one.example", "two.example", "three.example"}, next.Recorded())

	require.NoError(t, r.Close())
	assert.True(t, next.CloseCalled)
}
