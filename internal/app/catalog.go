package app

import (
	"fmt"
	"sync"
)

// Produit is a catalog entry scoped to one boutique
type Produit struct {
	ID    string  `json:"id"`
	Nom   string  `json:"nom"`
	Prix  float64 `json:"prix"`
	Stock int     `json:"stock"`
}

// Catalog is the demo product store backing the /api/produits routes. It
// stands in for the application database so cache reads have something
// slower than the cache to fetch from.
type Catalog struct {
	mu         sync.RWMutex
	byBoutique map[string][]Produit
	nextID     int
}

// NewCatalog creates a catalog seeded with demo data
func NewCatalog() *Catalog {
	c := &Catalog{byBoutique: make(map[string][]Produit)}
	c.Add("btq-1", Produit{Nom: "Savon artisanal", Prix: 4.50, Stock: 120})
	c.Add("btq-1", Produit{Nom: "Bougie parfumée", Prix: 12.90, Stock: 45})
	c.Add("btq-2", Produit{Nom: "Confiture de fraises", Prix: 6.20, Stock: 80})
	return c
}

// ListByBoutique returns a copy of the boutique's products
func (c *Catalog) ListByBoutique(boutiqueID string) []Produit {
	c.mu.RLock()
	defer c.mu.RUnlock()

	produits := c.byBoutique[boutiqueID]
	out := make([]Produit, len(produits))
	copy(out, produits)
	return out
}

// Add stores a product under the boutique and assigns its ID
func (c *Catalog) Add(boutiqueID string, p Produit) Produit {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	p.ID = fmt.Sprintf("prd-%d", c.nextID)
	c.byBoutique[boutiqueID] = append(c.byBoutique[boutiqueID], p)
	return p
}
