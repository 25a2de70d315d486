package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(true, &buf)
	require.True(t, l.Enabled())

	l.Printf("block %d", 7)
	l.WithField("proposal", 3).Warn("cast failed")

	out := buf.String()
	require.Contains(t, out, "block 7")
	require.Contains(t, out, "proposal=3")
	require.Contains(t, out, "cast failed")
}

func TestLogger_Quiet(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(false, &buf)
	require.False(t, l.Enabled())

	l.Printf("block %d", 7)
	l.Println("hello")
	l.WithField("proposal", 3).Warn("cast failed")
	require.Empty(t, buf.String())
}
