package catalog

import (
	"fabricsync/internal"
	"fabricsync/internal/util"
)

// Index keys a supplier's catalog slice by normalized (collection, colorNumber).
type Index struct {
	ByKey map[string]internal.CatalogFabric
}

func BuildIndex(rows []internal.CatalogFabric) *Index {
	idx := &Index{ByKey: make(map[string]internal.CatalogFabric, len(rows))}
	for _, r := range rows {
		idx.ByKey[util.FabricKey(r.Collection, r.ColorNumber)] = r
	}
	return idx
}
