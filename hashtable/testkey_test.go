package hashtable

// intKey is the Key[K] implementation shared by this package's tests: a
// plain int wrapped to supply Hash/Less/Equal.
type intKey int64

func (k intKey) Hash() uint64 {
	return HashUint64(uint64(k))
}

func (k intKey) Less(other intKey) bool {
	return k < other
}

func (k intKey) Equal(other intKey) bool {
	return k == other
}

func newIntTable[V any]() *Table[intKey, V] {
	return New[intKey, V](intKey.Hash)
}
