package db

import (
	"github.com/danthegoodman1/icetier/mutablebuffer"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/danthegoodman1/icetier/selection"
)

func toMutableBufferSelection(sel selection.Selection) mutablebuffer.Selection {
	if sel.IsAll() {
		return mutablebuffer.Selection{All: true}
	}
	return mutablebuffer.Selection{Columns: sel.Columns()}
}

func toReadBufferSelection(sel selection.Selection) readbuffer.ColumnSelection {
	if sel.IsAll() {
		return readbuffer.ColumnSelection{All: true}
	}
	return readbuffer.ColumnSelection{Columns: sel.Columns()}
}
