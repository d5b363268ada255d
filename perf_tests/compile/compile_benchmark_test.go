package compile_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/weftlabs/weft/cmd/engine/compiler"
)

// linearDefinition builds trigger -> n transforms -> output as raw
// definition JSON, the same shape the gateway hands the compiler.
func linearDefinition(n int) []byte {
	nodeMap := map[string]interface{}{
		"in":  map[string]interface{}{"type": compiler.KindTrigger, "name": "in", "config": map[string]interface{}{}},
		"out": map[string]interface{}{"type": compiler.KindOutput, "name": "out", "config": map[string]interface{}{}},
	}
	var edges []map[string]interface{}
	prev := "in"
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		nodeMap[id] = map[string]interface{}{
			"type":   compiler.KindTransform,
			"name":   id,
			"config": map[string]interface{}{"v": fmt.Sprintf("{{%s.output.v}}", prev)},
		}
		edges = append(edges, map[string]interface{}{
			"id":     fmt.Sprintf("e%d", i),
			"source": prev,
			"target": id,
		})
		prev = id
	}
	edges = append(edges, map[string]interface{}{"id": "eout", "source": prev, "target": "out"})

	data, err := json.Marshal(map[string]interface{}{
		"name":        fmt.Sprintf("linear-%d", n),
		"entry_point": "in",
		"nodes":       nodeMap,
		"edges":       edges,
	})
	if err != nil {
		panic(err)
	}
	return data
}

// fanoutDefinition builds trigger -> width parallel transforms ->
// merge -> output.
func fanoutDefinition(width int) []byte {
	nodeMap := map[string]interface{}{
		"in":    map[string]interface{}{"type": compiler.KindTrigger, "name": "in", "config": map[string]interface{}{}},
		"merge": map[string]interface{}{"type": compiler.KindTransform, "name": "merge", "config": map[string]interface{}{}},
		"out":   map[string]interface{}{"type": compiler.KindOutput, "name": "out", "config": map[string]interface{}{}},
	}
	var edges []map[string]interface{}
	for i := 0; i < width; i++ {
		id := fmt.Sprintf("b%d", i)
		nodeMap[id] = map[string]interface{}{
			"type":   compiler.KindTransform,
			"name":   id,
			"config": map[string]interface{}{},
		}
		edges = append(edges,
			map[string]interface{}{"id": fmt.Sprintf("ein%d", i), "source": "in", "target": id},
			map[string]interface{}{"id": fmt.Sprintf("emerge%d", i), "source": id, "target": "merge"},
		)
	}
	edges = append(edges, map[string]interface{}{"id": "eout", "source": "merge", "target": "out"})

	data, err := json.Marshal(map[string]interface{}{
		"name":        fmt.Sprintf("fanout-%d", width),
		"entry_point": "in",
		"nodes":       nodeMap,
		"edges":       edges,
	})
	if err != nil {
		panic(err)
	}
	return data
}

// BenchmarkCompileLinear measures parse + validate + plan-build over
// chain-shaped definitions of increasing size.
//
// Usage:
//
//	go test -bench=BenchmarkCompile ./perf_tests/compile -benchtime=2000x
//
// Metrics: ns/op, MB/s of definition JSON, nodes/sec
func BenchmarkCompileLinear(b *testing.B) {
	for _, n := range []int{10, 100, 500} {
		data := linearDefinition(n)
		b.Run(fmt.Sprintf("nodes_%d", n), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				res := compiler.CompileJSON(data)
				if !res.OK() {
					b.Fatalf("compile failed: %v", res.Errors)
				}
			}
			b.ReportMetric(float64((n+2)*b.N)/b.Elapsed().Seconds(), "nodes/sec")
		})
	}
}

// BenchmarkCompileFanout measures the wide-graph case, where edge
// validation and reachability dominate over node parsing.
func BenchmarkCompileFanout(b *testing.B) {
	for _, width := range []int{8, 64} {
		data := fanoutDefinition(width)
		b.Run(fmt.Sprintf("width_%d", width), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				res := compiler.CompileJSON(data)
				if !res.OK() {
					b.Fatalf("compile failed: %v", res.Errors)
				}
			}
			b.ReportMetric(float64((width+3)*b.N)/b.Elapsed().Seconds(), "nodes/sec")
		})
	}
}
