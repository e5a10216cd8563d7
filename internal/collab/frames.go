package collab

import (
	"bufio"
	"bytes"
	"io"
)

// frameReader extracts the data of each server-sent event. Comment lines and
// event names are skipped; multi-line data is joined with newlines.
type frameReader struct {
	sc *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &frameReader{sc: sc}
}

func (f *frameReader) next() ([]byte, error) {
	var data []byte
	have := false
	for f.sc.Scan() {
		line := f.sc.Bytes()
		switch {
		case len(line) == 0:
			if have {
				return data, nil
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			chunk := bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" "))
			if have {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
			have = true
		}
	}
	if err := f.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
