package transport

import (
	"context"
	"testing"
	"time"

	"github.com/acpkit/acp-go/pkg/protocol"
)

func BenchmarkCorrelatorRegisterResolve(b *testing.B) {
	c := NewCorrelator("bench", time.Minute)
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p, err := c.Register()
		if err != nil {
			b.Fatal(err)
		}
		resp, err := protocol.NewResponse(p.id, map[string]string{"ok": "true"})
		if err != nil {
			b.Fatal(err)
		}
		if !c.Resolve(resp) {
			b.Fatal("response not matched")
		}
		if _, err := c.Wait(ctx, p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCorrelatorConcurrent(b *testing.B) {
	c := NewCorrelator("bench", time.Minute)
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p, err := c.Register()
			if err != nil {
				b.Fatal(err)
			}
			resp, err := protocol.NewResponse(p.id, nil)
			if err != nil {
				b.Fatal(err)
			}
			c.Resolve(resp)
			if _, err := c.Wait(ctx, p); err != nil {
				b.Fatal(err)
			}
		}
	})
}
