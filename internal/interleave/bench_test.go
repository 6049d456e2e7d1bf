package interleave

import (
	"fmt"
	"testing"
)

// BenchmarkPlan measures plan construction for a corpus of uneven accounts.
func BenchmarkPlan(b *testing.B) {
	for _, n := range []int{100, 1000} {
		accounts := make([]AccountSize, n)
		for i := range accounts {
			accounts[i] = AccountSize{ID: fmt.Sprintf("%05d", i), Count: 50 + (i*7919)%20000}
		}
		b.Run(fmt.Sprintf("accounts=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := Plan(accounts, 10, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
