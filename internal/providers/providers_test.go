package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNamingRoundTrip(t *testing.T) {
	n := NewNaming("acme")
	name := n.Name("web", 3)
	if name != "acme-web-3" {
		t.Fatalf("unexpected name %q", name)
	}
	tag, idx, ok := ParseTag(name)
	if !ok || tag != "web" || idx != 3 {
		t.Fatalf("ParseTag(%q) = %q, %d, %v", name, tag, idx, ok)
	}
}

func TestNewNamingDropsHyphens(t *testing.T) {
	if got := NewNaming("my-team").Prefix; got != "myteam" {
		t.Errorf("expected hyphens stripped, got %q", got)
	}
	if got := NewNaming("").Prefix; got != DefaultNamingPrefix {
		t.Errorf("expected default prefix, got %q", got)
	}
}

func TestParseTagRejectsForeignNames(t *testing.T) {
	for _, name := range []string{"", "web", "acme-web", "acme-web-x", "a-b-c-1"} {
		if _, _, ok := ParseTag(name); ok {
			t.Errorf("expected %q not to parse", name)
		}
	}
}

func TestValidateTag(t *testing.T) {
	if err := ValidateTag("web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "web-1"} {
		err := ValidateTag(bad)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ValidateTag(%q) = %v, want ErrInvalidArgument", bad, err)
		}
	}
}

func TestNextIndexesSkipsUsed(t *testing.T) {
	got := NextIndexes(map[int]bool{1: true, 3: true}, 3)
	want := []int{2, 4, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

type staticLister []ComputeMetadata

func (s staticLister) ListNodes(context.Context) ([]ComputeMetadata, error) { return s, nil }

type recordingAdder struct {
	mu    sync.Mutex
	names []string
}

func (a *recordingAdder) AddNodeWithTag(_ context.Context, tag, name string, tpl Template) (*NodeMetadata, error) {
	a.mu.Lock()
	a.names = append(a.names, name)
	a.mu.Unlock()
	return &NodeMetadata{
		Resource: Resource{ID: "id-" + name, Type: TypeNode, Name: name, Location: tpl.Location.ID},
		Tag:      tag,
		State:    StateRunning,
	}, nil
}

func TestRunNodesStrategyDefersCreation(t *testing.T) {
	lister := staticLister{
		Resource{ID: "1", Type: TypeNode, Name: "acme-web-1"},
		Resource{ID: "2", Type: TypeNode, Name: "acme-db-2"},
	}
	adder := &recordingAdder{}
	run := NewRunNodesStrategy(lister, adder, NewNaming("acme"))

	units, err := run.RunNodesWithTag(context.Background(), "web", 2, Template{Location: &Location{ID: "fsn1"}})
	if err != nil {
		t.Fatalf("RunNodesWithTag: %v", err)
	}
	if len(adder.names) != 0 {
		t.Fatalf("expected no creation before units run, got %v", adder.names)
	}
	if _, ok := units["acme-web-2"]; !ok {
		t.Fatalf("expected slot acme-web-2, got %v", units)
	}
	if _, ok := units["acme-web-3"]; !ok {
		t.Fatalf("expected slot acme-web-3, got %v", units)
	}

	node, err := units["acme-web-2"](context.Background())
	if err != nil {
		t.Fatalf("unit: %v", err)
	}
	if node.Tag != "web" || node.Location != "fsn1" {
		t.Errorf("unexpected node %+v", node)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	boom := errors.New("bad request")
	err := Retry(context.Background(), zerolog.Nop(), cfg, "create", func() error {
		calls++
		return Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
	err := Retry(context.Background(), zerolog.Nop(), cfg, "list", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	err := Retry(context.Background(), zerolog.Nop(), cfg, "reboot", func() error {
		return errors.New("still down")
	})
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrphanID(t *testing.T) {
	err := &BackendError{Op: "starting nodes", Key: "acme-web-1", Err: &OrphanError{NodeID: "42", Err: errors.New("timeout")}}
	id, ok := OrphanID(err)
	if !ok || id != "42" {
		t.Fatalf("OrphanID = %q, %v", id, ok)
	}
	if _, ok := OrphanID(errors.New("plain")); ok {
		t.Errorf("plain errors carry no orphan id")
	}
}

func TestCloudInitUserData(t *testing.T) {
	doc := CloudInitUserData("", "ssh-ed25519 AAAA test\n", "web", map[string]string{"team": "core"})
	for _, want := range []string{"#cloud-config", "name: fl", "- ssh-ed25519 AAAA test", "web", "team=core"} {
		if !strings.Contains(doc, want) {
			t.Errorf("expected %q in user data:\n%s", want, doc)
		}
	}
}

func TestRegistryOpen(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", func(cfg Config, _ zerolog.Logger) (*Provider, error) {
		return &Provider{Name: "fake"}, nil
	})
	p, err := reg.Open("fake", Config{}, zerolog.Nop())
	if err != nil || p.Name != "fake" {
		t.Fatalf("Open = %v, %v", p, err)
	}
	if _, err := reg.Open("missing", Config{}, zerolog.Nop()); err == nil {
		t.Errorf("expected error for unregistered provider")
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "fake" {
		t.Errorf("unexpected names %v", got)
	}
}
