package replicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func vm(source string, version int64, history ...Version) VersionMeta {
	return VersionMeta{Current: Version{Source: source, Version: version}, History: history}
}

func TestHistorian_IdenticalReplay(t *testing.T) {
	local := vm("X", 1)
	incoming := vm("X", 1)
	assert.Equal(t, IdenticalReplay, Historian{}.Relation(incoming, local))
}

func TestHistorian_FastForward(t *testing.T) {
	local := vm("X", 1)
	incoming := vm("X", 2, Version{"X", 1})
	assert.Equal(t, IncomingDescendsLocal, Historian{}.Relation(incoming, local))
}

func TestHistorian_Stale(t *testing.T) {
	local := vm("X", 2, Version{"X", 1})
	incoming := vm("X", 1)
	assert.Equal(t, LocalDescendsIncoming, Historian{}.Relation(incoming, local))
}

func TestHistorian_Concurrent(t *testing.T) {
	local := vm("X", 1)
	incoming := vm("Y", 1)
	assert.Equal(t, Concurrent, Historian{}.Relation(incoming, local))
}

func TestHistorian_MissingVersionDisqualifiesDescendance(t *testing.T) {
	local := vm("X", 1)
	incoming := VersionMeta{Current: Version{Source: "X"}, MissingVersion: true}
	assert.Equal(t, Concurrent, Historian{}.Relation(incoming, local))
}

func TestHistorian_MultiSourceHistoryDomination(t *testing.T) {
	// local descends from a merge of X and Y; incoming only knows about X.
	local := vm("Z", 1, Version{"X", 1}, Version{"Y", 1})
	incoming := vm("X", 2, Version{"X", 1})
	assert.Equal(t, Concurrent, Historian{}.Relation(incoming, local))
}
