package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/require"
)

func TestTableAlignsByDisplayWidth(t *testing.T) {
	tbl := newTable("NAME", "PHONE")
	tbl.add("José", "5511999990000")
	tbl.add("山田", "8190000000")
	tbl.add("\x1b[31mRed\x1b[0m", "1")

	var buf bytes.Buffer
	require.NoError(t, tbl.render(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	col := runewidth.StringWidth("NAME") + tablePadding
	for _, line := range lines {
		plain := stripANSI(line)
		prefix := runewidth.Truncate(plain, col, "")
		require.Equal(t, col, runewidth.StringWidth(prefix), line)
		require.True(t, strings.HasSuffix(prefix, "  "), line)
		require.NotEqual(t, " ", strings.TrimPrefix(plain, prefix)[:1], line)
		require.NotEqual(t, ' ', rune(plain[len(plain)-1]))
	}
}

func TestTableTruncatesLongCells(t *testing.T) {
	tbl := newTable("MESSAGE")
	tbl.add(strings.Repeat("a", 100) + "\nsecond line")

	var buf bytes.Buffer
	require.NoError(t, tbl.render(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.LessOrEqual(t, runewidth.StringWidth(lines[1]), maxCellWidth)
	require.NotContains(t, lines[1], "second line")
	require.True(t, strings.HasSuffix(lines[1], truncateGlyph))
}

func TestStripANSI(t *testing.T) {
	require.Equal(t, "plain", stripANSI("plain"))
	require.Equal(t, "bold text", stripANSI("\x1b[1mbold\x1b[0m text"))
}
