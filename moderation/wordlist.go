package moderation

import (
	"bufio"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"chat-relay/errors"
)

// LoadWords reads every *.txt file directly under dir, one word per line, and
// returns the distinct non-blank entries sorted. Each file is usually one
// language (en.txt, fr.txt).
func LoadWords(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read word list directory: %w", err)
	}

	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		if err := readWords(fsys, path.Join(dir, entry.Name()), unique); err != nil {
			return nil, err
		}
	}
	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return words, nil
}

func readWords(fsys fs.FS, name string, into map[string]struct{}) error {
	file, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	// Scanner copes with both \n and \r\n
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			into[line] = struct{}{}
		}
	}
	return scanner.Err()
}
