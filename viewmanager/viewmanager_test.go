package viewmanager

import "testing"

func TestNameDeterministic(t *testing.T) {
	a := Name(KindFilterResult, "session-abcdef-1234", "SELECT 1")
	b := Name(KindFilterResult, "session-abcdef-1234", "SELECT 1")
	if a != b {
		t.Fatalf("expected deterministic naming, got %q vs %q", a, b)
	}
	c := Name(KindFilterResult, "session-abcdef-1234", "SELECT 2")
	if a == c {
		t.Fatal("expected different queries to produce different names")
	}
}

func TestNameShape(t *testing.T) {
	name := Name(KindSourceGeometry, "session-abcdef", "SELECT 1")
	want := "fm_temp_srcgeom_sessio_"
	if len(name) < len(want) || name[:len(want)] != want {
		t.Fatalf("got %q, want prefix %q", name, want)
	}
}

func TestChooseClusterTier(t *testing.T) {
	th := DefaultThresholds
	cases := map[int64]ClusterTier{
		1:       ClusterSync,
		50_000:  ClusterSync,
		50_001:  ClusterAsync,
		500_000: ClusterAsync,
		500_001: ClusterSkip,
	}
	for rows, want := range cases {
		if got := th.ChooseClusterTier(rows); got != want {
			t.Errorf("ChooseClusterTier(%d) = %v, want %v", rows, got, want)
		}
	}
}
