package corpus

import (
	"fmt"
	"log/slog"

	"github.com/mahesh-hegde/lectio/app/config"
)

// Source bundles everything the seeding pipeline reads.
type Source struct {
	Books           Books
	CrossReferences CrossReferences
	RedLetters      RedLetters
}

// LoadSource reads the corpus named by the config.
func LoadSource(conf *config.LectioConfig) (*Source, error) {
	books, err := LoadBooksDir(conf.DataPath(conf.Corpus.BooksDir))
	if err != nil {
		return nil, err
	}
	xrefs, err := LoadCrossReferences(conf.DataPath(conf.Corpus.CrossReferencesFile))
	if err != nil {
		return nil, err
	}
	redLetters, err := LoadRedLetters(conf.DataPath(conf.Corpus.RedLettersFile))
	if err != nil {
		return nil, err
	}
	for book := range redLetters {
		if _, ok := books.IndexOf(book); !ok {
			return nil, fmt.Errorf("red letter data names unknown book %q", book)
		}
	}
	slog.Info("loaded corpus datasets", "crossReferences", len(xrefs), "redLetterBooks", len(redLetters))
	return &Source{Books: books, CrossReferences: xrefs, RedLetters: redLetters}, nil
}
