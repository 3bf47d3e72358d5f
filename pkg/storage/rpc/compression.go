package rpc

import (
	"io"

	"github.com/dsnet/compress/bzip2"
)

// Content-Type values the payload HTTP endpoint negotiates
// "identity, bzip2 negotiated via MIME types application/octet-stream,
// application/x-bzip2".
const (
	mimeIdentity = "application/octet-stream"
	mimeBzip2    = "application/x-bzip2"
)

// compressWriter wraps w so that bytes written through it arrive at w
// bzip2-compressed when negotiated is mimeBzip2, or unmodified otherwise.
func compressWriter(w io.Writer, contentType string) (io.WriteCloser, error) {
	if contentType != mimeBzip2 {
		return nopWriteCloser{w}, nil
	}
	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
}

// decompressReader wraps r so reads through it yield decompressed bytes
// when contentType is mimeBzip2, or the raw stream otherwise.
func decompressReader(r io.Reader, contentType string) (io.ReadCloser, error) {
	if contentType != mimeBzip2 {
		return io.NopCloser(r), nil
	}
	return bzip2.NewReader(r, nil)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// negotiateResponseType picks identity or bzip2 from an Accept header,
// choosing bzip2 only when the header is exactly mimeBzip2.
func negotiateResponseType(accept string) string {
	if accept == mimeBzip2 {
		return mimeBzip2
	}
	return mimeIdentity
}
