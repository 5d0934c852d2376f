package optable

import (
	"encoding/json"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Diff renders the differences between two table dumps, e.g. the same space
// under two keys or two digests. changed is false when the dumps match.
func Diff(a, b Dump, coloring bool) (out string, changed bool, err error) {
	left, err := json.Marshal(a)
	if err != nil {
		return "", false, err
	}
	right, err := json.Marshal(b)
	if err != nil {
		return "", false, err
	}

	differ := gojsondiff.New()
	delta, err := differ.Compare(left, right)
	if err != nil {
		return "", false, err
	}
	if !delta.Modified() {
		return "", false, nil
	}

	var leftObj interface{}
	if err := json.Unmarshal(left, &leftObj); err != nil {
		return "", false, err
	}
	asciiFmt := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	})
	out, err = asciiFmt.Format(delta)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}
