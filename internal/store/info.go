package store

import (
	"context"
	"os"
)

// Info assembles the describe_index payload for this folder.
func (s *Store) Info(ctx context.Context) (*IndexInfo, error) {
	info := &IndexInfo{
		FolderPath:     s.folderPath,
		KeywordBackend: s.backend,
	}

	var err error
	if info.ModelID, info.Dimensions, err = s.ModelInfo(ctx); err != nil {
		return nil, err
	}
	if info.Dimensions == 0 {
		info.Dimensions = s.vectors.Dimensions()
	}
	if info.SchemaVersion, err = s.SchemaVersion(ctx); err != nil {
		return nil, err
	}
	if info.ScanGeneration, err = s.ScanGeneration(ctx); err != nil {
		return nil, err
	}
	if v, err := s.GetState(ctx, StateKeyLastFullScan); err == nil && v != "" {
		info.LastFullScan = timeFromDB(v)
	}
	if info.DocumentCount, err = s.CountDocuments(ctx); err != nil {
		return nil, err
	}
	if info.ChunkCount, err = s.CountChunks(ctx); err != nil {
		return nil, err
	}
	if info.EmbeddingCount, err = s.EmbeddingCount(ctx); err != nil {
		return nil, err
	}
	info.VectorCount = s.vectors.Count()

	if stat, err := os.Stat(DBPath(s.folderPath)); err == nil {
		info.DBSizeBytes = stat.Size()
	}

	return info, nil
}
