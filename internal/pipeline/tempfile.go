package pipeline

import (
	"io"
	"os"
)

// tempCopy drains r into a fresh temp file and returns its path.
func tempCopy(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "baseline-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, r); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func removeTemp(path string) {
	_ = os.Remove(path)
}
