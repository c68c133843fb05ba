package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// plainHeader marks output of PlainEncryptor so sealed data never equals its input.
var plainHeader = []byte("DRIVEPLN")

// PlainEncryptor is a deterministic, keyless Encryptor for tests. It only
// prepends a header on Seal and strips it on Open.
type PlainEncryptor struct {
	setupCalled bool
}

var _ Encryptor = (*PlainEncryptor)(nil)

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

func (e *PlainEncryptor) Setup(string) error {
	e.setupCalled = true
	return nil
}

func (e *PlainEncryptor) Seal(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(plainHeader); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return nopWriteCloser{w}, nil
}

func (e *PlainEncryptor) Unlock(string) (Opener, error) {
	return plainOpener{}, nil
}

func (e *PlainEncryptor) IsConfigured() bool { return true }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type plainOpener struct{}

func (plainOpener) Open(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(plainHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, plainHeader) {
		return nil, fmt.Errorf("not a plain-sealed stream")
	}
	return r, nil
}
