package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ParseIDList reads the line-oriented identifier list. Blank lines and lines
// starting with '#' are ignored. Accepted shapes, per line:
//
//	EFTA00024813.pdf - DataSet 8   (partition hint, extension optional)
//	EFTA00024813
//	00024813                       (bare digits gain the prefix)
//
// Malformed lines are skipped and counted, never fatal.
func ParseIDList(r io.Reader, prefix string) ([]FileID, int) {
	hinted := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d+)(?:\.\w+)?\s*-\s*DataSet\s+(\d+)\s*$`)
	plain := regexp.MustCompile(`^(` + regexp.QuoteMeta(prefix) + `\d+)`)
	bare := regexp.MustCompile(`^(\d+)`)

	var ids []FileID
	skipped := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := hinted.FindStringSubmatch(line); m != nil {
			ds, _ := strconv.Atoi(m[2])
			ids = append(ids, FileID{ID: prefix + m[1], Dataset: ds})
			continue
		}
		if m := plain.FindStringSubmatch(line); m != nil {
			ids = append(ids, FileID{ID: m[1]})
			continue
		}
		if m := bare.FindStringSubmatch(line); m != nil {
			ids = append(ids, FileID{ID: prefix + m[1]})
			continue
		}
		skipped++
	}
	return ids, skipped
}

func LoadIDList(path, prefix string) ([]FileID, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open id list: %w", err)
	}
	defer f.Close()
	ids, skipped := ParseIDList(f, prefix)
	return ids, skipped, nil
}
