package statestore

import (
	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/histree/pkg/nodecache"
)

// Info describes a store for introspection.
type Info struct {
	StoreID         uuid.UUID
	Path            string
	Cache           nodecache.Stats
	TreeStart       int64
	TreeEnd         int64
	FileSize        int64
	BlockSize       int
	MaxChildren     int
	NodeCount       int
	Height          int
	FormatVersion   uint32
	ProviderVersion uint32
	RootSequence    int32
	Closed          bool
	Building        bool
}

// Info returns the header values, file size, tree height and cache statistics.
func (s *Store) Info() (Info, error) {
	err := s.checkLive()
	if err != nil {
		return Info{}, err
	}

	header := s.tree.Header()

	size, err := s.file.Size()
	if err != nil {
		return Info{}, err
	}

	height, err := s.tree.Height()
	if err != nil {
		s.noteError(err)

		return Info{}, err
	}

	return Info{
		StoreID:         header.StoreID,
		Path:            s.file.Path(),
		Cache:           s.cache.Stats(),
		TreeStart:       header.TreeStart,
		TreeEnd:         header.TreeEnd,
		FileSize:        size,
		BlockSize:       header.BlockSize,
		MaxChildren:     header.MaxChildren,
		NodeCount:       header.NodeCount,
		Height:          height,
		FormatVersion:   header.FormatVersion,
		ProviderVersion: header.ProviderVersion,
		RootSequence:    header.RootSequence,
		Closed:          header.Closed,
		Building:        s.tree.Building(),
	}, nil
}
