package kiso

// archetypeEdge caches the target of a single-component transition,
// avoiding an id-set lookup on the hot add/del path (spec.md §4.4).
type archetypeEdge struct {
	target ArchetypeId
	hash   uint64
}

// archetypeGraph holds the add/del edges leading out of one archetype,
// grounded on original_source/include/gaia/ecs/archetype_graph.h: the C++
// source keys each edge map by the transitioning Entity; the Go port keeps
// the same shape with a plain map since Go doesn't need a custom
// direct-hash key type to get good map performance here.
type archetypeGraph struct {
	add map[Entity]archetypeEdge
	del map[Entity]archetypeEdge
}

func (g *archetypeGraph) addEdgeRight(id Entity, target ArchetypeId, hash uint64) {
	if g.add == nil {
		g.add = make(map[Entity]archetypeEdge, 4)
	}
	g.add[id] = archetypeEdge{target: target, hash: hash}
}

func (g *archetypeGraph) addEdgeLeft(id Entity, target ArchetypeId, hash uint64) {
	if g.del == nil {
		g.del = make(map[Entity]archetypeEdge, 4)
	}
	g.del[id] = archetypeEdge{target: target, hash: hash}
}

func (g *archetypeGraph) findRight(id Entity) (archetypeEdge, bool) {
	e, ok := g.add[id]
	return e, ok
}

func (g *archetypeGraph) findLeft(id Entity) (archetypeEdge, bool) {
	e, ok := g.del[id]
	return e, ok
}
