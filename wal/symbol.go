package wal

// encodeSymbolDiffs serializes the symbol-dictionary diff block that
// follows every DATA/MAT_VIEW_DATA payload: one (columnIndex, nullFlag,
// initialCount, count, (value, symbol)*) group per touched column,
// terminated by endOfSymbolEntries, with the whole block terminated by
// endOfSymbolDiffs. Only entries with Value >= InitialCount are emitted —
// those interned this transaction rather than inherited from the reader's
// warm symbol-map cache.
func encodeSymbolDiffs(buf *recordBuffer, diffs []SymbolDiff) {
	for _, d := range diffs {
		buf.putInt32(d.ColumnIndex)
		buf.putBool(d.NullFlag)
		buf.putInt32(d.InitialCount)

		sizeAt := len(buf.buf)
		buf.putInt32(0) // patched below once the real count is known
		count := int32(0)
		for _, e := range d.Entries {
			if e.Value < d.InitialCount {
				continue
			}
			buf.putInt32(e.Value)
			buf.putStr(e.Symbol)
			count++
		}
		putLE32(buf.buf[sizeAt:sizeAt+4], count)
		buf.putInt32(endOfSymbolEntries)
	}
	buf.putInt32(endOfSymbolDiffs)
}

func decodeSymbolDiffs(c *recordCursor) []SymbolDiff {
	var diffs []SymbolDiff
	for {
		columnIndex := c.int32()
		if columnIndex == endOfSymbolDiffs {
			return diffs
		}
		d := SymbolDiff{ColumnIndex: columnIndex}
		d.NullFlag = c.boolv()
		d.InitialCount = c.int32()
		count := c.int32()
		d.Entries = make([]SymbolEntry, 0, count)
		for {
			value := c.int32()
			if value == endOfSymbolEntries {
				break
			}
			d.Entries = append(d.Entries, SymbolEntry{Value: value, Symbol: c.str()})
		}
		diffs = append(diffs, d)
	}
}
