package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// LoadLexiconFile reads a JSON lexicon override file:
//
//	{"positive": ["best", ...], "negative": ["worst", ...]}
func LoadLexiconFile(path string) (Lexicon, error) {
	var lex Lexicon
	data, err := os.ReadFile(path)
	if err != nil {
		return lex, fmt.Errorf("read lexicon file: %w", err)
	}
	if err := json.Unmarshal(data, &lex); err != nil {
		return lex, fmt.Errorf("parse lexicon file: %w", err)
	}
	return lex, nil
}

// WatchLexiconFile applies the lexicon file to the analyzer and reloads
// it whenever the file changes, until ctx is done. Editors replace files
// rather than write in place, so the watch sits on the directory and
// filters events by name. A broken edit keeps the previous word sets.
func WatchLexiconFile(ctx context.Context, path string, analyzer *Analyzer) error {
	lex, err := LoadLexiconFile(path)
	if err != nil {
		return err
	}
	analyzer.SetLexicon(lex)
	log.Info().Str("path", path).Msg("Loaded sentiment lexicon file")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create lexicon watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch lexicon dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				lex, err := LoadLexiconFile(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Lexicon reload failed, keeping previous word sets")
					continue
				}
				analyzer.SetLexicon(lex)
				log.Info().Str("path", path).Msg("Reloaded sentiment lexicon file")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Lexicon watcher error")
			}
		}
	}()

	return nil
}
