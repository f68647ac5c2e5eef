package batch

import (
	"change-detector/internal/decode"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

type Strategy string

const (
	// Sequential pairs the sorted files as (0,1), (2,3), ...
	Sequential Strategy = "sequential"
	// Temporal groups files by scene prefix and pairs neighbours within a
	// group, so a group of n files yields n-1 overlapping pairs.
	Temporal Strategy = "temporal"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Sequential:
		return Sequential, nil
	case Temporal:
		return Temporal, nil
	default:
		return "", xerrors.Errorf("unknown pairing strategy %q, must be sequential or temporal", s)
	}
}

const (
	MinFileBytes = 1 << 10
	MaxFileBytes = decode.MaxBytes
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

type Pair struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// FindPairs walks dir recursively for image files and pairs them with the
// given strategy. Fewer than two images yields no pairs.
func FindPairs(dir string, strategy Strategy) ([]Pair, error) {
	var files []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && extensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, xerrors.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	if len(files) < 2 {
		return nil, nil
	}

	switch strategy {
	case Sequential:
		pairs := make([]Pair, 0, len(files)/2)
		for i := 0; i+1 < len(files); i += 2 {
			pairs = append(pairs, Pair{Before: files[i], After: files[i+1]})
		}
		return pairs, nil
	case Temporal:
		return temporalPairs(files), nil
	default:
		return nil, xerrors.Errorf("unknown pairing strategy %q", strategy)
	}
}

func temporalPairs(files []string) []Pair {
	var scenes []string
	groups := map[string][]string{}
	for _, file := range files {
		scene := sceneOf(file)
		if _, ok := groups[scene]; !ok {
			scenes = append(scenes, scene)
		}
		groups[scene] = append(groups[scene], file)
	}

	var pairs []Pair
	for _, scene := range scenes {
		group := groups[scene]
		for i := 0; i+1 < len(group); i++ {
			pairs = append(pairs, Pair{Before: group[i], After: group[i+1]})
		}
	}
	return pairs
}

// sceneOf is the first 10 characters of the file stem, or the first 5 when
// the stem is shorter than 10.
func sceneOf(path string) string {
	base := filepath.Base(path)
	stem := []rune(strings.TrimSuffix(base, filepath.Ext(base)))
	n := 10
	if len(stem) < n {
		n = 5
	}
	if len(stem) < n {
		n = len(stem)
	}
	return string(stem[:n])
}

// ValidatePair checks both files before anything is uploaded: each must be
// between MinFileBytes and MaxFileBytes and carry a readable header with
// dimensions in the accepted range.
func ValidatePair(p Pair) error {
	for _, path := range []string{p.Before, p.After} {
		if err := validateFile(path); err != nil {
			return err
		}
	}
	return nil
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return xerrors.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() < MinFileBytes {
		return xerrors.Errorf("%s is too small: %d bytes", filepath.Base(path), info.Size())
	}
	if info.Size() > MaxFileBytes {
		return xerrors.Errorf("%s is too large: %d bytes", filepath.Base(path), info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("failed to read %s: %w", path, err)
	}
	if _, _, err := decode.DecodeConfig(data); err != nil {
		return xerrors.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
