package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringsPreservesOrder(t *testing.T) {
	assert.Equal(t, IRArray{IRString("#chan"), IRString("hi")}, Strings([]string{"#chan", "hi"}))
	assert.Equal(t, IRArray{}, Strings(nil))
}

func TestStringMap(t *testing.T) {
	assert.Equal(t, IRObject{"id": IRString("m1")}, StringMap(map[string]string{"id": "m1"}))
	assert.Equal(t, IRObject{}, StringMap(nil), "nil map encodes as an empty object")
}

func TestSecondsMap(t *testing.T) {
	obj := SecondsMap(map[string]int64{"node1": 1700000000500})
	assert.Equal(t, IRObject{"node1": IRSeconds(1700000000500)}, obj)
	assert.Equal(t, `{"node1":1700000000.5}`, string(MustMarshalCanonical(obj)))
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 but after it in UTF-16.
	obj := IRObject{"\U0001F600": IRInt(1), "｡": IRInt(2), "a": IRInt(3)}
	assert.Equal(t, []string{"a", "\U0001F600", "｡"}, obj.SortedKeys())
}
