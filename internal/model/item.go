package model

import "github.com/pgvector/pgvector-go"

// Item is a catalog entry. FloorPrice is the engine-private minimum and
// must never appear in anything that crosses the RPC boundary.
type Item struct {
	ID         string
	Name       string
	BasePrice  float64
	FloorPrice float64
	Active     bool
	Embedding  *pgvector.Vector // populated by the external indexer; read-only here
}

// Identity is a self-certifying caller: the id embeds the Ed25519 public
// key (did:key:<hex>), so there is no registration step.
type Identity struct {
	DID        string
	Reputation float64 // [0,1]; defaults to 1.0 when the edge has no signal
}
