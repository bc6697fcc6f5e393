package ssh

import (
	"bufio"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
)

func TestScanTerminalLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lf", "Creating VM\nStarting VM\n", []string{"Creating VM", "Starting VM"}},
		{"crlf", "Creating VM\r\nStarting VM\r\n", []string{"Creating VM", "Starting VM"}},
		{"progress redraw", "Downloading image 10%\rDownloading image 50%\rDownloading image 100%\n", []string{"Downloading image 10%", "Downloading image 50%", "Downloading image 100%"}},
		{"blank line kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"no trailing newline", "Done", []string{"Done"}},
		{"trailing cr", "Done\r", []string{"Done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte per read so CR and LF arrive in separate chunks.
			sc := bufio.NewScanner(iotest.OneByteReader(strings.NewReader(tt.in)))
			sc.Split(scanTerminalLines)
			var got []string
			for sc.Scan() {
				got = append(got, sc.Text())
			}
			if err := sc.Err(); err != nil {
				t.Fatalf("scan: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
