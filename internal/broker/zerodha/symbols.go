package zerodha

import (
	"slices"
	"strconv"
)

// symbolTable is a read-only symbol/token index. It is filled once and then
// shared by ticker callbacks without locking.
type symbolTable struct {
	bySymbol map[string]uint32
	byToken  map[uint32]string
}

func newSymbolTable(capacity int) *symbolTable {
	return &symbolTable{
		bySymbol: make(map[string]uint32, capacity),
		byToken:  make(map[uint32]string, capacity),
	}
}

// add records a listing. The catalog can repeat a symbol; the first one wins.
func (st *symbolTable) add(symbol string, token uint32) {
	if _, ok := st.bySymbol[symbol]; ok {
		return
	}
	st.bySymbol[symbol] = token
	st.byToken[token] = symbol
}

func (st *symbolTable) token(symbol string) (uint32, bool) {
	tok, ok := st.bySymbol[symbol]
	return tok, ok
}

func (st *symbolTable) has(token uint32) bool {
	_, ok := st.byToken[token]
	return ok
}

// label names a token for logs, falling back to its decimal form.
func (st *symbolTable) label(token uint32) string {
	if sym, ok := st.byToken[token]; ok {
		return sym
	}
	return strconv.FormatUint(uint64(token), 10)
}

// tokens lists every token in ascending order.
func (st *symbolTable) tokens() []uint32 {
	out := make([]uint32, 0, len(st.byToken))
	for tok := range st.byToken {
		out = append(out, tok)
	}
	slices.Sort(out)
	return out
}
