package blocklist

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/deskbot-io/deskbot/internal/store"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

func newTestGate(t *testing.T) (*Gate, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, nil), s
}

func TestStatusUnknownUserIsClean(t *testing.T) {
	g, _ := newTestGate(t)

	st, err := g.Status("telegram:1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Blacklisted || st.UnblockRequested {
		t.Fatalf("unknown user should be clean: %+v", st)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	g, _ := newTestGate(t)

	if err := g.Block("telegram:1"); err != nil {
		t.Fatalf("block: %v", err)
	}
	st, _ := g.Status("telegram:1")
	if !st.Blacklisted {
		t.Fatal("user should be blacklisted")
	}

	if err := g.Unblock("telegram:1"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	st, _ = g.Status("telegram:1")
	if st.Blacklisted {
		t.Fatal("user should be clean after unblock")
	}
}

func TestRequestUnblockCooldown(t *testing.T) {
	g, _ := newTestGate(t)
	base := time.Now().UTC().Truncate(time.Second)
	g.now = func() time.Time { return base }

	if err := g.Block("telegram:1"); err != nil {
		t.Fatalf("block: %v", err)
	}

	d, err := g.RequestUnblock("telegram:1", "telegram", "please", 24*time.Hour)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !d.Created || d.Request == nil || d.Request.Status != protocol.UnblockPending {
		t.Fatalf("first request should create: %+v", d)
	}
	firstID := d.Request.ID

	// One second before the window closes: throttled, pointing at the
	// existing request.
	g.now = func() time.Time { return base.Add(24*time.Hour - time.Second) }
	d, err = g.RequestUnblock("telegram:1", "telegram", "again", 24*time.Hour)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if d.Created {
		t.Fatal("request inside cooldown must be throttled")
	}
	if d.Request == nil || d.Request.ID != firstID {
		t.Fatalf("throttled decision should surface the prior request: %+v", d.Request)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("retry after = %v", d.RetryAfter)
	}

	// One second after the window: allowed again.
	g.now = func() time.Time { return base.Add(24*time.Hour + time.Second) }
	d, err = g.RequestUnblock("telegram:1", "telegram", "third", 24*time.Hour)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !d.Created {
		t.Fatal("request after cooldown should create")
	}
}

func TestRequestUnblockThrottleFallsBackToDecidedRequest(t *testing.T) {
	g, _ := newTestGate(t)
	base := time.Now().UTC().Truncate(time.Second)
	g.now = func() time.Time { return base }

	g.Block("telegram:1")
	d, err := g.RequestUnblock("telegram:1", "telegram", "please", 24*time.Hour)
	if err != nil || !d.Created {
		t.Fatalf("request: created=%v err=%v", d.Created, err)
	}

	// The request gets rejected, but the user is still inside the
	// cooldown window: the throttled decision surfaces the decided
	// request rather than nothing.
	if _, found, err := g.Decide(d.Request.ID, false, "op", "no"); err != nil || !found {
		t.Fatalf("decide: found=%v err=%v", found, err)
	}

	g.now = func() time.Time { return base.Add(time.Hour) }
	d, err = g.RequestUnblock("telegram:1", "telegram", "again", 24*time.Hour)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if d.Created {
		t.Fatal("still inside cooldown")
	}
	if d.Request == nil || d.Request.Status != protocol.UnblockRejected {
		t.Fatalf("expected fallback to the rejected request, got %+v", d.Request)
	}
}

func TestZeroCooldownNeverThrottles(t *testing.T) {
	g, _ := newTestGate(t)

	g.Block("telegram:1")
	for i := 0; i < 3; i++ {
		d, err := g.RequestUnblock("telegram:1", "telegram", "please", 0)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !d.Created {
			t.Fatalf("request %d should not be throttled", i)
		}
	}
}

func TestDecideApproveRemovesFromBlacklist(t *testing.T) {
	g, s := newTestGate(t)

	g.Block("telegram:1")
	d, _ := g.RequestUnblock("telegram:1", "telegram", "please", 0)

	req, found, err := g.Decide(d.Request.ID, true, "op", "welcome back")
	if err != nil || !found {
		t.Fatalf("decide: found=%v err=%v", found, err)
	}
	if req.Status != protocol.UnblockApproved || req.DecidedBy != "op" {
		t.Fatalf("decision wrong: %+v", req)
	}

	st, _ := g.Status("telegram:1")
	if st.Blacklisted {
		t.Fatal("approval should unblock the user")
	}

	// A decided request cannot be decided again.
	if _, found, _ := g.Decide(d.Request.ID, false, "op2", ""); found {
		t.Fatal("second decide should report found=false")
	}

	entry, _, _ := s.GetBlacklist("telegram:1")
	if entry.Blacklisted {
		t.Fatalf("store entry still blacklisted: %+v", entry)
	}
}
