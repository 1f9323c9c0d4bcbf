package compiler

import (
	"bytes"
	"fmt"
	"io"
)

// linesResult represents the result of streaming line groups.
type linesResult struct {
	lines []string
	err   error
}

// streamLineGroups reads from the reader and streams complete lines in groups
// through a channel. A trailing partial line is flushed at EOF.
func streamLineGroups(reader io.Reader) chan *linesResult {
	result := make(chan *linesResult)
	go func() {
		defer close(result)
		var remainder []byte
		buf := make([]byte, 5*1024)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				data := append(remainder, buf[:n]...)
				remainder = nil
				var lines []string
				for len(data) > 0 {
					newlineAt := bytes.IndexByte(data, '\n')
					if newlineAt == -1 {
						remainder = append([]byte(nil), data...)
						break
					}
					lines = append(lines, string(data[:newlineAt]))
					data = data[newlineAt+1:]
				}
				if len(lines) > 0 {
					result <- &linesResult{lines: lines}
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				result <- &linesResult{err: fmt.Errorf("read error: %w", err)}
				return
			}
		}
		if len(remainder) != 0 {
			result <- &linesResult{lines: []string{string(remainder)}}
		}
	}()
	return result
}
