package progress

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestPercentage(t *testing.T) {
	tr := NewTracker()
	tr.Start("tok", "u1", "demo", "count")

	tr.OnNotification("tok", 30, ptr(120), "working")
	s, ok := tr.Get("tok")
	require.True(t, ok)
	pct, known := s.Percentage()
	assert.True(t, known)
	assert.Equal(t, 25, pct)
	assert.Equal(t, "working", s.Message)

	tr.OnNotification("tok", 30, nil, "")
	s, _ = tr.Get("tok")
	_, known = s.Percentage()
	assert.False(t, known)
	assert.Equal(t, float64(30), s.Progress)
}

func TestPercentageRounding(t *testing.T) {
	tests := []struct {
		progress, total float64
		want            int
	}{
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{0, 10, 0},
		{10, 10, 100},
	}
	for _, tt := range tests {
		s := State{Progress: tt.progress, Total: ptr(tt.total)}
		got, ok := s.Percentage()
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "progress=%v total=%v", tt.progress, tt.total)
	}

	_, ok := State{Progress: 1, Total: ptr(0)}.Percentage()
	assert.False(t, ok)
}

func TestLastWriteWins(t *testing.T) {
	tr := NewTracker()
	tr.Start("tok", "u1", "demo", "count")
	tr.OnNotification("tok", 80, ptr(100), "")
	tr.OnNotification("tok", 20, ptr(100), "")

	s, _ := tr.Get("tok")
	assert.Equal(t, float64(20), s.Progress, "out of order progress is accepted as-is")
}

func TestIndependentTokensAndClear(t *testing.T) {
	tr := NewTracker()
	tr.Start("a", "u1", "srv", "count")
	tr.Start("b", "u1", "srv", "count")
	tr.OnNotification("b", 1, ptr(2), "")

	assert.Equal(t, 2, tr.Len())

	tr.Clear("a")
	_, ok := tr.Get("a")
	assert.False(t, ok)
	b, ok := tr.Get("b")
	require.True(t, ok)
	assert.Equal(t, float64(1), b.Progress)

	tr.Clear("missing")
	assert.Equal(t, 1, tr.Len())
}

func TestStartKeepsMetadata(t *testing.T) {
	tr := NewTracker()
	tr.Start("tok", "u1", "demo", "count")
	tr.OnNotification("tok", 3, ptr(10), "3/10")

	s, _ := tr.Get("tok")
	assert.Equal(t, "demo", s.Server)
	assert.Equal(t, "count", s.Tool)
	assert.Equal(t, "u1", s.UserID)
}

func TestUnknownTokenIgnored(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("u1", 4)
	defer cancel()

	tr.OnNotification("never-started", 1, ptr(2), "")
	assert.Equal(t, 0, tr.Len())

	tr.Start("tok", "u1", "demo", "count")
	tr.Clear("tok")
	<-ch
	<-ch

	tr.OnNotification("tok", 2, ptr(2), "late")
	_, ok := tr.Get("tok")
	assert.False(t, ok, "a notification after Clear must not resurrect the token")
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, ch)
}

func TestScopedByUser(t *testing.T) {
	tr := NewTracker()
	mine, cancelMine := tr.Subscribe("u1", 8)
	defer cancelMine()
	theirs, cancelTheirs := tr.Subscribe("u2", 8)
	defer cancelTheirs()

	tr.Start("tok-1", "u1", "demo", "count")
	tr.Start("tok-2", "u2", "secret-server", "secretTool")
	tr.OnNotification("tok-2", 1, ptr(2), "")

	snap := tr.Snapshot("u1")
	require.Len(t, snap, 1)
	assert.Equal(t, "tok-1", snap[0].Token)
	assert.Empty(t, tr.Snapshot("nobody"))

	require.Len(t, mine, 1)
	assert.Equal(t, "tok-1", (<-mine).Token)
	require.Len(t, theirs, 2)
	for len(theirs) > 0 {
		assert.Equal(t, "tok-2", (<-theirs).Token)
	}
}

func TestSubscribe(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("u1", 4)

	tr.Start("tok", "u1", "demo", "count")
	tr.OnNotification("tok", 1, ptr(4), "")
	tr.Clear("tok")

	u := <-ch
	assert.Equal(t, "demo", u.Server)
	assert.Nil(t, u.Percent)

	u = <-ch
	assert.Equal(t, "tok", u.Token)
	require.NotNil(t, u.Percent)
	assert.Equal(t, 25, *u.Percent)
	assert.False(t, u.Done)

	u = <-ch
	assert.True(t, u.Done)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestConcurrentNotifications(t *testing.T) {
	tr := NewTracker()
	tr.Start("tok", "u1", "demo", "count")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.OnNotification("tok", float64(i), ptr(50), "")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, tr.Len())
}

func TestNewToken(t *testing.T) {
	tok := NewToken("my server.v2")
	assert.True(t, strings.HasPrefix(tok, "progress_my_server_v2_"), tok)
	assert.NotEqual(t, tok, NewToken("my server.v2"))
}
