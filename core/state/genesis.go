package state

// GenesisMarker records when the genesis document was applied.
type GenesisMarker struct {
	AppliedAt   uint64
	GenesisTime uint64
}

// GenesisApplied reports whether genesis has already been written to this
// database.
func (m *Manager) GenesisApplied() (bool, error) {
	var marker GenesisMarker
	return m.getRLP(prefixedKey(genesisMarkerKey), &marker)
}

// MarkGenesisApplied stores the genesis marker.
func (m *Manager) MarkGenesisApplied(appliedAt, genesisTime int64) error {
	return m.putRLP(prefixedKey(genesisMarkerKey), &GenesisMarker{
		AppliedAt:   toUnix(appliedAt),
		GenesisTime: toUnix(genesisTime),
	})
}
