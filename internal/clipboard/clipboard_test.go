package clipboard

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	err error
	got []string
}

func (s *stubWriter) WriteAll(text string) error {
	s.got = append(s.got, text)
	return s.err
}

func TestOSC52Sequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewOSC52(&buf, true).WriteAll("hola"))
	assert.Equal(t, "\x1b]52;c;aG9sYQ==\x07", buf.String())
}

func TestOSC52RequiresTerminal(t *testing.T) {
	var buf bytes.Buffer
	err := NewOSC52(&buf, false).WriteAll("hola")
	assert.ErrorIs(t, err, ErrNotTerminal)
	assert.Zero(t, buf.Len())
}

func TestChainFallsBack(t *testing.T) {
	first := &stubWriter{err: errors.New("no xclip")}
	second := &stubWriter{}
	require.NoError(t, Chain{first, second}.WriteAll("texto"))
	assert.Equal(t, []string{"texto"}, first.got)
	assert.Equal(t, []string{"texto"}, second.got)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &stubWriter{}
	second := &stubWriter{}
	require.NoError(t, Chain{first, second}.WriteAll("texto"))
	assert.Empty(t, second.got)
}

func TestChainAllFail(t *testing.T) {
	a := errors.New("a")
	b := errors.New("b")
	err := Chain{&stubWriter{err: a}, &stubWriter{err: b}}.WriteAll("x")
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)

	assert.ErrorIs(t, Chain{}.WriteAll("x"), ErrUnsupported)
}
