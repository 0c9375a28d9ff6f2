package control

import "testing"

func TestStopOnStoppedPlaneIsRejected(t *testing.T) {
	p := New()
	if err := p.Stop(); err == nil {
		t.Fatal("Stop on a never-started plane should be rejected, not silently accepted")
	}
}

func TestStatusOnFreshPlaneIsStopped(t *testing.T) {
	p := New()
	st := p.Status()
	if st.State != Stopped {
		t.Fatalf("State = %v, want Stopped", st.State)
	}
	if st.LastError != "" {
		t.Fatalf("LastError = %q, want empty", st.LastError)
	}
}

func TestGetCountersOnFreshPlaneIsZero(t *testing.T) {
	p := New()
	snap := p.GetCounters()
	if snap.RequestsProxied != 0 || snap.BeatmapsDownloaded != 0 || snap.BanchoPacketsInjected != 0 {
		t.Fatalf("expected zero counters on a never-started plane, got %+v", snap)
	}
}

func TestUninstallCAWithoutBundleErrors(t *testing.T) {
	p := New()
	if err := p.UninstallCA(); err == nil {
		t.Fatal("UninstallCA should error when no bundle has ever been loaded")
	}
}
