package primitives

import "strconv"

// Block is an immutable block height.
type Block struct {
	number uint64
}

// NewBlock returns the block at height n.
func NewBlock(n uint64) *Block {
	return &Block{number: n}
}

// Number returns the height.
func (b *Block) Number() uint64 {
	return b.number
}

// Before reports whether b is lower than o.
func (b *Block) Before(o *Block) bool {
	return b.number < o.number
}

func (b *Block) String() string {
	return strconv.FormatUint(b.number, 10)
}
