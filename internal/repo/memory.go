package repo

import (
	"go.uber.org/zap"

	"github.com/evcraddock/automark/internal/crdt"
)

// NewMemory returns a Repository backed by an in-memory document with no
// persistence. Tests and short-lived sync sessions use it.
func NewMemory(actor string) *CRDTRepository {
	return &CRDTRepository{
		doc: crdt.NewDocument(actor),
		log: zap.NewNop(),
	}
}
