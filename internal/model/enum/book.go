package enum

// BookUpdateKind describes how a book update applies to existing state.
type BookUpdateKind uint8

const (
	_book_update_beg BookUpdateKind = iota
	BookUpdateSnapshot
	BookUpdateDelta
	_book_update_end
)

func (k BookUpdateKind) IsAvailable() bool {
	return k > _book_update_beg && k < _book_update_end
}

func (k BookUpdateKind) String() string {
	switch k {
	case BookUpdateSnapshot:
		return "snapshot"
	case BookUpdateDelta:
		return "delta"
	default:
		return "Unknown"
	}
}
