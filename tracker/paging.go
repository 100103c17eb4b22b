package tracker

import "github.com/life0fun/ethtaint/lib/config"

// PagingPolicy decides whether to fetch the page after page, given how many transactions it held and the page size.
type PagingPolicy interface {
	Continue(page, fetched, pageSize int) bool
}

// PagingFunc adapts a function to a PagingPolicy.
type PagingFunc func(page, fetched, pageSize int) bool

// Continue implements PagingPolicy.
func (f PagingFunc) Continue(page, fetched, pageSize int) bool { return f(page, fetched, pageSize) }

var (
	// FirstPageOnly reads a second page only when the first one was full, so an address history is read from at most
	// two pages per trace.
	FirstPageOnly PagingPolicy = PagingFunc(func(page, fetched, pageSize int) bool {
		return page == 1 && fetched == pageSize
	})
	// Exhaustive reads pages while they are full.
	Exhaustive PagingPolicy = PagingFunc(func(page, fetched, pageSize int) bool {
		return fetched == pageSize
	})
)

// PagingFromConfig returns the policy named in the configuration.
func PagingFromConfig(name string) PagingPolicy {
	if name == config.PagingExhaustive {
		return Exhaustive
	}
	return FirstPageOnly
}
