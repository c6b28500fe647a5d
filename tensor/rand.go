// rand.go - Zufallsgenerator fuer Multinomial-Sampling
//
// Deterministisch geseedet, sofern nicht explizit neu geseedet. Ein
// *Generator wird vom Aufrufer pro Thread/Translator-Instanz gehalten
// (kein verstecktes globales Prozess-Singleton, da Go keine
// thread-lokalen Variablen kennt).
package tensor

import "math/rand/v2"

const defaultSeed = 42

// Generator wraps a deterministic pseudo-random source.
type Generator struct {
	r *rand.Rand
}

// NewGenerator returns a generator seeded deterministically.
func NewGenerator() *Generator {
	return &Generator{r: rand.New(rand.NewPCG(defaultSeed, defaultSeed))}
}

// Reseed reseeds the generator explicitly.
func (g *Generator) Reseed(seed uint64) {
	g.r = rand.New(rand.NewPCG(seed, seed))
}

func (g *Generator) Float64() float64 {
	return g.r.Float64()
}
