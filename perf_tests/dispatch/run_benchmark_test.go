package dispatch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/executor"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/nodes"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}

// staticHandler answers every transform instantly with a fixed
// payload, so the numbers isolate loop and dispatch overhead.
type staticHandler struct{}

func (staticHandler) Kind() string { return compiler.KindTransform }
func (staticHandler) Execute(context.Context, nodes.Request) nodes.Response {
	return nodes.Succeed(map[string]interface{}{"v": 1}, nil)
}

func newBenchOrchestrator() *executor.Orchestrator {
	return executor.New(executor.Opts{
		Runtime: runtime.NewInline(runtime.InlineOpts{Registry: nodes.NewRegistry(staticHandler{})}),
		Logger:  nopLogger{},
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
}

func node(kind, name string, config map[string]interface{}) compiler.DefNode {
	if config == nil {
		config = map[string]interface{}{}
	}
	return compiler.DefNode{Type: kind, Name: name, Config: config}
}

func edge(id, source, target string) compiler.DefEdge {
	return compiler.DefEdge{ID: id, Source: source, Target: target}
}

func mustPlan(b *testing.B, def *compiler.Definition) *compiler.Plan {
	b.Helper()
	res := compiler.Compile(def)
	if !res.OK() {
		b.Fatalf("compile failed: %v", res.Errors)
	}
	return res.Plan
}

// linearPlan chains n transforms between trigger and output. When
// templated is set, each transform's config references its
// predecessor's output so every dispatch pays for interpolation.
func linearPlan(b *testing.B, n int, templated bool) *compiler.Plan {
	def := &compiler.Definition{
		Name:       fmt.Sprintf("chain-%d", n),
		EntryPoint: "in",
		Nodes: map[string]compiler.DefNode{
			"in":  node(compiler.KindTrigger, "in", nil),
			"out": node(compiler.KindOutput, "out", nil),
		},
	}
	prev := "in"
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		var config map[string]interface{}
		if templated {
			if i == 0 {
				config = map[string]interface{}{"v": "{{inputs.seed}}"}
			} else {
				config = map[string]interface{}{"v": fmt.Sprintf("{{%s.output.v}}", prev)}
			}
		}
		def.Nodes[id] = node(compiler.KindTransform, id, config)
		def.Edges = append(def.Edges, edge(fmt.Sprintf("e%d", i), prev, id))
		prev = id
	}
	def.Edges = append(def.Edges, edge("eout", prev, "out"))
	return mustPlan(b, def)
}

// fanoutPlan fans the trigger out to width transforms that merge
// before the output.
func fanoutPlan(b *testing.B, width int) *compiler.Plan {
	def := &compiler.Definition{
		Name:       fmt.Sprintf("fanout-%d", width),
		EntryPoint: "in",
		Nodes: map[string]compiler.DefNode{
			"in":    node(compiler.KindTrigger, "in", nil),
			"merge": node(compiler.KindTransform, "merge", nil),
			"out":   node(compiler.KindOutput, "out", nil),
		},
	}
	for i := 0; i < width; i++ {
		id := fmt.Sprintf("b%d", i)
		def.Nodes[id] = node(compiler.KindTransform, id, nil)
		def.Edges = append(def.Edges,
			edge(fmt.Sprintf("ein%d", i), "in", id),
			edge(fmt.Sprintf("emerge%d", i), id, "merge"),
		)
	}
	def.Edges = append(def.Edges, edge("eout", "merge", "out"))
	return mustPlan(b, def)
}

func runOnce(b *testing.B, o *executor.Orchestrator, plan *compiler.Plan, spec executor.RunSpec) int {
	b.Helper()
	result := o.Run(context.Background(), plan, spec)
	if !result.Success {
		b.Fatalf("run failed: %+v", result.Error)
	}
	return result.Metrics.NodeCount
}

// BenchmarkRunLinear measures full executions of chain workflows over
// the in-process runtime.
//
// Usage:
//
//	go test -bench=BenchmarkRun ./perf_tests/dispatch -benchtime=500x
//
// Metrics: ns/op per execution, nodes/sec
func BenchmarkRunLinear(b *testing.B) {
	for _, n := range []int{5, 25, 100} {
		plan := linearPlan(b, n, false)
		o := newBenchOrchestrator()
		b.Run(fmt.Sprintf("chain_%d", n), func(b *testing.B) {
			var nodeCount int
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				nodeCount = runOnce(b, o, plan, executor.RunSpec{ExecutionID: "bench"})
			}
			b.ReportMetric(float64(nodeCount*b.N)/b.Elapsed().Seconds(), "nodes/sec")
		})
	}
}

// BenchmarkRunTemplated repeats the chain with templated configs, so
// the delta against BenchmarkRunLinear is the interpolation cost.
func BenchmarkRunTemplated(b *testing.B) {
	for _, n := range []int{5, 25, 100} {
		plan := linearPlan(b, n, true)
		o := newBenchOrchestrator()
		spec := executor.RunSpec{
			ExecutionID: "bench",
			Inputs:      map[string]interface{}{"seed": 1},
		}
		b.Run(fmt.Sprintf("chain_%d", n), func(b *testing.B) {
			var nodeCount int
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				nodeCount = runOnce(b, o, plan, spec)
			}
			b.ReportMetric(float64(nodeCount*b.N)/b.Elapsed().Seconds(), "nodes/sec")
		})
	}
}

// BenchmarkRunFanout measures wide graphs under the scheduler's
// concurrency cap.
func BenchmarkRunFanout(b *testing.B) {
	for _, width := range []int{4, 16, 64} {
		plan := fanoutPlan(b, width)
		o := newBenchOrchestrator()
		spec := executor.RunSpec{ExecutionID: "bench", MaxConcurrent: 8}
		b.Run(fmt.Sprintf("width_%d", width), func(b *testing.B) {
			var nodeCount int
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				nodeCount = runOnce(b, o, plan, spec)
			}
			b.ReportMetric(float64(nodeCount*b.N)/b.Elapsed().Seconds(), "nodes/sec")
		})
	}
}
