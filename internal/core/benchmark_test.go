package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

func BenchmarkSubmitAndAwait(b *testing.B) {
	exec := NewExecutor(DefaultConcurrency, 0)
	ctx := context.Background()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		handles := make([]*Handle[int], 0, 32)
		for j := 0; j < 32; j++ {
			handles = append(handles, Submit(exec, ctx, fmt.Sprint(j), func(context.Context) (int, error) {
				return j, nil
			}))
		}
		if _, failures := AwaitCompletion(zerolog.Nop(), "bench", handles); len(failures) != 0 {
			b.Fatalf("unexpected failures %v", failures.Keys())
		}
	}
}

func BenchmarkRunNodesWithTag(b *testing.B) {
	ctx := context.Background()
	tpl := testTemplate(true)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		f := newFakeBackend()
		svc, err := New(f.provider())
		if err != nil {
			b.Fatalf("New: %v", err)
		}
		if _, err := svc.RunNodesWithTag(ctx, "bench", 20, tpl); err != nil {
			b.Fatalf("RunNodesWithTag: %v", err)
		}
	}
}

// Memory allocation benchmarks
func BenchmarkIndexByID(b *testing.B) {
	nodes := make([]*prov.NodeMetadata, 1000)
	for i := range nodes {
		nodes[i] = &prov.NodeMetadata{Resource: prov.Resource{ID: fmt.Sprint(i), Type: prov.TypeNode}}
	}
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := IndexByID(nodes); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTagOf(b *testing.B) {
	r := prov.Resource{ID: "1", Type: prov.TypeNode, Name: "flotilla-web-12"}
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if TagOf(r) != "web" {
			b.Fatal("unexpected tag")
		}
	}
}
