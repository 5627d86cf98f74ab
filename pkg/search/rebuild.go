package search

import (
	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/types"
)

// FileSource is the narrow read surface Rebuild needs from storage,
// keeping this package decoupled from pkg/storage's full Store type.
type FileSource interface {
	AllFilesForEngine(rootID string) ([]types.File, error)
}

// Rebuild reconstructs an engine's searchable documents from the
// database. This is the recovery path for when the engine falls
// behind or is swapped after a failure: the DB stays authoritative and
// this reproduces the document set exactly from it.
func Rebuild(src FileSource, engine Engine, rootID string) (int, error) {
	files, err := src.AllFilesForEngine(rootID)
	if err != nil {
		return 0, err
	}

	docs := make([]dbwriter.EngineDoc, 0, len(files))
	for _, f := range files {
		content := f.FTSContent
		if content == "" {
			content = string(f.Content)
		}
		docs = append(docs, dbwriter.EngineDoc{
			DocID:   f.DBPath,
			RootID:  f.RootID,
			DBPath:  f.DBPath,
			Content: content,
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := engine.UpsertDocuments(docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}
