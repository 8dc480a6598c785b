// Profiling:
// go build ./profile/query
// go tool pprof -http=":8000" -nodefraction=0.001 ./query mem.prof

package main

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/edwinsyarief/kiso"
)

type comp1 struct {
	V int64
	W int64
}

type comp2 struct {
	V int64
	W int64
}

type comp3 struct {
	V int64
	W int64
}

type comp4 struct {
	V int64
	W int64
}

type comp5 struct {
	V int64
	W int64
}

type comp6 struct {
	V int64
	W int64
}

func main() {
	// CPU Profiling
	f, _ := os.Create("cpu.prof")
	_ = pprof.StartCPUProfile(f)
	defer pprof.StopCPUProfile()

	count := 50
	iters := 10000
	entities := 100000
	run(count, iters, entities)

	// Memory Profiling
	memFile, _ := os.Create("mem.prof")
	defer memFile.Close()
	runtime.GC() // Trigger garbage collection
	_ = pprof.WriteHeapProfile(memFile)
}

func run(rounds, iters, numEntities int) {
	for range rounds {
		w := kiso.NewWorld(kiso.WorldConfig{InitialEntityCapacity: numEntities})
		c1 := kiso.RegisterComponent[comp1](w)
		c2 := kiso.RegisterComponent[comp2](w)
		c3 := kiso.RegisterComponent[comp3](w)
		c4 := kiso.RegisterComponent[comp4](w)
		c5 := kiso.RegisterComponent[comp5](w)
		c6 := kiso.RegisterComponent[comp6](w)
		q := kiso.NewQuery(w).With(c1, c2, c3, c4, c5, c6).Build()

		for range numEntities {
			e := w.Create()
			kiso.Add(w, e, comp1{})
			kiso.Add(w, e, comp2{V: 1, W: 2})
			kiso.Add(w, e, comp3{})
			kiso.Add(w, e, comp4{})
			kiso.Add(w, e, comp5{})
			kiso.Add(w, e, comp6{})
		}

		for range iters {
			q.MatchNow()
			q.Reset()
			for q.Next() {
				a := kiso.ColumnAt[comp1](q, 0)
				b := kiso.ColumnAt[comp2](q, 1)
				a.V += b.V
				a.W += b.W
			}
		}
	}
}
