// Profiling:
// go build ./profile/entities
// go tool pprof -http=":8000" -nodefraction=0.001 ./entities mem.pprof

package main

import (
	"github.com/edwinsyarief/kiso"
	"github.com/pkg/profile"
)

type comp1 struct {
	V int64
	W int64
}

type comp2 struct {
	V int64
	W int64
}

func main() {
	count := 50
	iters := 10000
	entities := 1000
	p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	run(count, iters, entities)
	p.Stop()
}

func run(rounds, iters, numEntities int) {
	for range rounds {
		w := kiso.NewWorld(kiso.WorldConfig{InitialEntityCapacity: numEntities})
		c1 := kiso.RegisterComponent[comp1](w)
		c2 := kiso.RegisterComponent[comp2](w)
		q := kiso.NewQuery(w).With(c1, c2).Build()

		for range iters {
			ents := make([]kiso.Entity, 0, numEntities)
			for range numEntities {
				e := w.Create()
				kiso.Add(w, e, comp1{})
				kiso.Add(w, e, comp2{V: 1, W: 2})
				ents = append(ents, e)
			}
			q.MatchNow()
			q.Reset()
			for q.Next() {
				a := kiso.ColumnAt[comp1](q, 0)
				b := kiso.ColumnAt[comp2](q, 1)
				a.V += b.V
				a.W += b.W
			}
			for _, e := range ents {
				w.Delete(e)
			}
		}
	}
}
