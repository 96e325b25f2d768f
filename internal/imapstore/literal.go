package imapstore

import "io"

// bytesLiteral adapts an in-memory message body to the
// github.com/emersion/go-imap Literal interface (io.Reader + Len),
// mirroring the teacher's FileLiteral for the in-memory case APPEND
// needs here.
type bytesLiteral struct {
	data []byte
	off  int
}

func newBytesLiteral(data []byte) *bytesLiteral {
	return &bytesLiteral{data: data}
}

func (l *bytesLiteral) Len() int {
	return len(l.data)
}

func (l *bytesLiteral) Read(p []byte) (int, error) {
	if l.off >= len(l.data) {
		return 0, io.EOF
	}
	n := copy(p, l.data[l.off:])
	l.off += n
	return n, nil
}
