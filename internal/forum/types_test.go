package forum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadIDNumeric(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		id   ThreadID
		want int64
	}{
		{"numeric", ThreadID("12345"), 12345},
		{"zero", ThreadID("0"), 0},
		{"empty", ThreadID(""), 0},
		{"garbage", ThreadID("abc"), 0},
		{"mixed", ThreadID("12a"), 0},
		{"negative", ThreadID("-7"), -7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.id.Numeric())
		})
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	require.Equal(t, -1, Compare(ThreadID("3"), ThreadID("5")))
	require.Equal(t, 1, Compare(ThreadID("9"), ThreadID("5")))
	require.Equal(t, 0, Compare(ThreadID("5"), ThreadID("5")))
	// Non-numeric tokens order as zero, below any positive ID.
	require.Equal(t, -1, Compare(ThreadID("junk"), ThreadID("1")))
	require.Equal(t, 0, Compare(ThreadID("junk"), ThreadID("0")))
}

func TestSortDescending(t *testing.T) {
	t.Parallel()

	ids := []ThreadID{"5", "3", "9"}
	SortDescending(ids)
	require.Equal(t, []ThreadID{"9", "5", "3"}, ids)
}

func TestMaxThreadID(t *testing.T) {
	t.Parallel()

	require.Equal(t, ThreadID("9"), MaxThreadID([]ThreadID{"5", "9", "3"}))
	require.Equal(t, ThreadID(""), MaxThreadID(nil))
}

func TestNewerThan(t *testing.T) {
	t.Parallel()

	ids := []ThreadID{"5", "3", "9"}

	t.Run("zero watermark admits everything", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, ids, NewerThan(ids, Watermark("0")))
		require.Equal(t, ids, NewerThan(ids, Watermark("")))
	})

	t.Run("strictly above the watermark", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, []ThreadID{"9"}, NewerThan(ids, Watermark("5")))
		require.Empty(t, NewerThan(ids, Watermark("9")))
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		t.Parallel()
		got := NewerThan(ids, Watermark("0"))
		got[0] = ThreadID("999")
		require.Equal(t, ThreadID("5"), ids[0])
	})
}

func TestSectionID(t *testing.T) {
	t.Parallel()

	s := Section{FID: "36", TypeID: "437"}
	require.Equal(t, "36_437", s.ID())
}

func TestSectionPageURL(t *testing.T) {
	t.Parallel()

	s := Section{FID: "36", TypeID: "437"}
	got := SectionPageURL("https://forum.example.net/", s, 3)
	require.Equal(t,
		"https://forum.example.net/forum.php?mod=forumdisplay&fid=36&filter=typeid&typeid=437&page=3",
		got)
}

func TestThreadURL(t *testing.T) {
	t.Parallel()

	got := ThreadURL("https://forum.example.net", ThreadID("123456"))
	require.Equal(t, "https://forum.example.net/forum.php?mod=viewthread&tid=123456", got)
}
